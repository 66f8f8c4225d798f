package jsonrpc

import (
	"errors"
	"fmt"
)

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
	// ErrorCodeRequestCanceled is returned by a handler that stopped because
	// the peer sent $/cancelRequest for it.
	ErrorCodeRequestCanceled ErrorCode = -32604
	// ErrorCodeServerNotInitialized is returned for requests that arrive
	// before the initialize handshake.
	ErrorCodeServerNotInitialized ErrorCode = -32002
	// ErrorCodeRateLimit is returned when the worker refuses work because an
	// upstream quota is exhausted.
	ErrorCodeRateLimit ErrorCode = -32000
)

// String returns a short name for well-known codes.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeParseError:
		return "ParseError"
	case ErrorCodeInvalidRequest:
		return "InvalidRequest"
	case ErrorCodeMethodNotFound:
		return "MethodNotFound"
	case ErrorCodeInvalidParams:
		return "InvalidParams"
	case ErrorCodeInternalError:
		return "InternalError"
	case ErrorCodeRequestCanceled:
		return "RequestCanceled"
	case ErrorCodeServerNotInitialized:
		return "ServerNotInitialized"
	case ErrorCodeRateLimit:
		return "RateLimitError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error is a JSON-RPC error object. It implements the error interface so that
// a failed call can be inspected with errors.As.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// NewError builds an Error with the given code and message.
func NewError(code ErrorCode, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("jsonrpc: %s (%d): %s", e.Code, int(e.Code), e.Message)
}

// IsCode reports whether err is, or wraps, a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var je *Error
	if errors.As(err, &je) {
		return je.Code == code
	}
	return false
}
