package lsp

import (
	"errors"
	"fmt"
)

// Errors that resolve futures or reject calls.
var (
	// ErrNotReady is returned for calls made before the handshake completed.
	ErrNotReady = errors.New("language server not ready")

	// ErrTimeout resolves a request whose deadline passed without a response.
	ErrTimeout = errors.New("request timed out")

	// ErrDisconnected resolves every request outstanding when the stream
	// closed, and rejects calls made afterwards.
	ErrDisconnected = errors.New("language server disconnected")

	// ErrCancelled resolves a request that was cancelled because the
	// document moved on, or that the server reported as cancelled.
	ErrCancelled = errors.New("request cancelled")

	// ErrPending is returned by Future.Result before the future resolves.
	ErrPending = errors.New("request still pending")
)

// IsCancelled reports whether err is a cancellation, which callers treat as
// a normal outcome rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// ProtocolError reports a malformed frame, an undecodable message, or a
// response that matches no outstanding request.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// RPCError is an error response from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// JSON-RPC and LSP error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// responseError converts an error response into the error a future
// resolves with. Server-side cancellations map to ErrCancelled.
func responseError(e *RPCError) error {
	switch e.Code {
	case CodeRequestCancelled, CodeContentModified, CodeServerCancelled:
		return fmt.Errorf("%w: %w", ErrCancelled, e)
	}
	return e
}
