package calib

import "fmt"

// NetworkError reports a fatal transport failure against one endpoint:
// connection refused, connection reset, or a deadline that elapsed before
// any byte arrived. The endpoint is retired for the rest of the run.
type NetworkError struct {
	Endpoint Endpoint
	Cause    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure on %s: %v", e.Endpoint.Addr(), e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// ProtocolError reports a response that arrived but could not be framed or
// decoded. The job fails; the endpoint stays in rotation.
type ProtocolError struct {
	Endpoint Endpoint
	Cause    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol failure on %s: %v", e.Endpoint.Addr(), e.Cause)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// RemoteEvaluationError carries a failure the worker itself reported via the
// "error" key of its response. Policy is identical to ProtocolError.
type RemoteEvaluationError struct {
	Endpoint Endpoint
	Message  string
}

func (e *RemoteEvaluationError) Error() string {
	return fmt.Sprintf("worker %s reported: %s", e.Endpoint.Addr(), e.Message)
}

// AllEndpointsDead signals that every configured endpoint has been retired.
// It terminates the optimization run for the current case.
type AllEndpointsDead struct{}

func (e *AllEndpointsDead) Error() string { return "all worker endpoints are dead" }
