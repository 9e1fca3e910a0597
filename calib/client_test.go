package calib

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startWorker runs a single-connection fake PFC worker that reads the whole
// request and replies with the given bytes. It returns the endpoint and a
// channel that yields the request payload it received.
func startWorker(t *testing.T, response []byte) (Endpoint, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, _ := io.ReadAll(conn)
		received <- req
		conn.Write(response)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port}, received
}

func TestClientEvaluate(t *testing.T) {
	endpoint, received := startWorker(t, []byte(`{"step_0": "csv-data", "step_1": ""}`))

	c := &Client{Timeout: 2 * time.Second}
	result, err := c.Evaluate(endpoint, []byte(`{"p": 1}`))
	require.NoError(t, err)
	assert.Equal(t, SimulationResult{"step_0": "csv-data", "step_1": ""}, result)
	assert.Equal(t, []byte(`{"p": 1}`), <-received)
}

func TestClientToleratesStreamNoise(t *testing.T) {
	endpoint, _ := startWorker(t, []byte("PFC banner noise{\"step_0\": \"data\"}trailing junk"))

	c := &Client{Timeout: 2 * time.Second}
	result, err := c.Evaluate(endpoint, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "data", result["step_0"])
}

func TestClientRemoteError(t *testing.T) {
	endpoint, _ := startWorker(t, []byte(`{"error": "Simulation failed with exception: boom"}`))

	c := &Client{Timeout: 2 * time.Second}
	_, err := c.Evaluate(endpoint, []byte(`{}`))

	var remoteErr *RemoteEvaluationError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, remoteErr.Message, "boom")
}

func TestClientProtocolError(t *testing.T) {
	tests := []struct {
		name     string
		response []byte
	}{
		{"no braces", []byte("no json here at all")},
		{"unbalanced", []byte("}{")},
		{"invalid json", []byte(`{"step_0": `)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint, _ := startWorker(t, tt.response)
			c := &Client{Timeout: 2 * time.Second}
			_, err := c.Evaluate(endpoint, []byte(`{}`))

			var protoErr *ProtocolError
			assert.ErrorAs(t, err, &protoErr)
			var netErr *NetworkError
			assert.False(t, errors.As(err, &netErr), "a framed-but-bad response must not retire the endpoint")
		})
	}
}

func TestClientConnectionRefused(t *testing.T) {
	// Grab a free port and close the listener so nothing accepts on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	c := &Client{Timeout: time.Second}
	_, err = c.Evaluate(Endpoint{Host: "127.0.0.1", Port: addr.Port}, []byte(`{}`))

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestClientConnectionReset(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// SO_LINGER 0 turns the close into a RST.
		conn.(*net.TCPConn).SetLinger(0)
		conn.Close()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := &Client{Timeout: time.Second}
	_, err = c.Evaluate(Endpoint{Host: "127.0.0.1", Port: addr.Port}, []byte(`{}`))

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestClientTimeoutNoData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Accept and go silent; the client's deadline must fire.
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := &Client{Timeout: 100 * time.Millisecond}
	_, err = c.Evaluate(Endpoint{Host: "127.0.0.1", Port: addr.Port}, []byte(`{}`))

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestExtractObject(t *testing.T) {
	// The documented framing property: noise around a single object is
	// stripped before decoding.
	obj, err := extractObject([]byte(`garbage{"a":1}trailing`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(obj))

	result, err := decodeResponse(Endpoint{}, []byte(`garbage{"a":1}trailing`))
	require.NoError(t, err)
	assert.Equal(t, "1", result["a"])

	_, err = extractObject([]byte("nothing"))
	assert.Error(t, err)
}
