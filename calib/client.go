package calib

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Client speaks the PFC worker wire protocol: one TCP connection per
// evaluation, the canonical parameter payload as a single write, then read
// until the worker closes its side.
//
// Framing is by connection close, not by length prefix. That is a known
// fragility inherited from the worker side: the reader tolerates leading and
// trailing noise by extracting the span between the first '{' and the last
// '}' before decoding, and never expects more than one top-level object per
// response.
type Client struct {
	// Timeout bounds the whole exchange: dialing, writing, and reading.
	Timeout time.Duration
}

// Evaluate submits the canonical parameter payload to one endpoint and
// returns the decoded multi-step result.
//
// Failure classification drives endpoint retirement upstream: a
// *NetworkError (refused, reset, or deadline with zero bytes received) is
// fatal for the endpoint, while a *ProtocolError or *RemoteEvaluationError
// fails only the job.
func (c *Client) Evaluate(endpoint Endpoint, payload []byte) (SimulationResult, error) {
	conn, err := net.DialTimeout("tcp", endpoint.Addr(), c.Timeout)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Cause: err}
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Cause: err}
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Cause: err}
	}
	// Half-close the send side so the worker sees end-of-request.
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return nil, &NetworkError{Endpoint: endpoint, Cause: err}
		}
	}

	raw, readErr := io.ReadAll(conn)
	if readErr != nil && len(raw) == 0 {
		return nil, &NetworkError{Endpoint: endpoint, Cause: readErr}
	}
	if readErr != nil {
		// Bytes arrived before the failure; attempt to frame what we have.
		logrus.Debugf("read from %s ended early after %d bytes: %v", endpoint.Addr(), len(raw), readErr)
	}

	return decodeResponse(endpoint, raw)
}

// extractObject frames the single JSON object out of the raw stream: the
// span from the first '{' to the last '}'. Anything outside that span is
// tolerated noise. A stream that legitimately carried several objects is
// undefined by the worker protocol and is treated as one top-level object.
func extractObject(raw []byte) ([]byte, error) {
	start := bytes.IndexByte(raw, '{')
	end := bytes.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in %d-byte response", len(raw))
	}
	return raw[start : end+1], nil
}

// decodeResponse extracts and decodes the single JSON object in the raw
// response stream.
func decodeResponse(endpoint Endpoint, raw []byte) (SimulationResult, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return nil, &ProtocolError{Endpoint: endpoint, Cause: err}
	}

	var body map[string]any
	if err := json.Unmarshal(obj, &body); err != nil {
		return nil, &ProtocolError{Endpoint: endpoint, Cause: fmt.Errorf("decode response: %w", err)}
	}

	if msg, ok := body["error"]; ok {
		return nil, &RemoteEvaluationError{Endpoint: endpoint, Message: fmt.Sprint(msg)}
	}

	result := make(SimulationResult, len(body))
	for key, val := range body {
		switch v := val.(type) {
		case string:
			result[key] = v
		case nil:
			result[key] = ""
		default:
			result[key] = fmt.Sprint(v)
		}
	}
	return result, nil
}
