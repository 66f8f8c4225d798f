package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Kind distinguishes the three JSON-RPC message shapes.
type Kind string

const (
	KindRequest      Kind = "request"
	KindNotification Kind = "notification"
	KindResponse     Kind = "response"
)

// ErrInvalidMessage is wrapped by every shape violation reported by
// AnyMessage.UnmarshalJSON.
var ErrInvalidMessage = errors.New("invalid JSON-RPC message")

// AnyMessage is a generic JSON-RPC message (request, notification, or response).
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response. Result is always emitted on
// success, so a handler returning nil produces "result": null.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// MarshalJSON keeps the result/error exclusivity on the wire: exactly one of
// the two members is present.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		type errorResponse struct {
			JSONRPCVersion string     `json:"jsonrpc"`
			Error          *Error     `json:"error"`
			ID             *RequestID `json:"id"`
		}
		return json.Marshal(errorResponse{JSONRPCVersion: r.JSONRPCVersion, Error: r.Error, ID: r.ID})
	}
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	type resultResponse struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Result         json.RawMessage `json:"result"`
		ID             *RequestID      `json:"id"`
	}
	return json.Marshal(resultResponse{JSONRPCVersion: r.JSONRPCVersion, Result: result, ID: r.ID})
}

// NewRequest builds a request with the given id. Params are marshaled unless
// they are already raw JSON; nil params are omitted.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPCVersion: ProtocolVersion, Method: method, Params: raw, ID: id}, nil
}

// NewNotification builds a request without an id.
func NewNotification(method string, params any) (*Request, error) {
	return NewRequest(nil, method, params)
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return b, nil
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// UnmarshalJSON enforces JSON-RPC 2.0 message shapes:
//
//   - a request has an id and a method;
//   - a notification has a method and no id;
//   - a response has an id and exactly one of result and error.
//
// Member presence is checked on the raw object so that "result": null counts
// as a result.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("%w: message must be an object", ErrInvalidMessage)
	}

	var out AnyMessage

	if v, ok := fields["jsonrpc"]; ok {
		if err := json.Unmarshal(v, &out.JSONRPCVersion); err != nil || out.JSONRPCVersion != ProtocolVersion {
			return fmt.Errorf("%w: expected jsonrpc %q, got %s", ErrInvalidMessage, ProtocolVersion, string(v))
		}
	} else {
		out.JSONRPCVersion = ProtocolVersion
	}

	if v, ok := fields["id"]; ok && !isNull(v) {
		var id RequestID
		if err := id.UnmarshalJSON(v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		out.ID = &id
	}

	if v, ok := fields["method"]; ok {
		if err := json.Unmarshal(v, &out.Method); err != nil {
			return fmt.Errorf("%w: method must be a string", ErrInvalidMessage)
		}
		if out.Method == "" {
			return fmt.Errorf("%w: method must not be empty", ErrInvalidMessage)
		}
	}

	out.Params = fields["params"]
	result, hasResult := fields["result"]
	errRaw, hasError := fields["error"]
	if hasError && isNull(errRaw) {
		hasError = false
	}

	if out.Method != "" {
		if hasResult || hasError {
			return fmt.Errorf("%w: request message cannot have result or error fields", ErrInvalidMessage)
		}
		*m = out
		return nil
	}

	if out.ID == nil {
		return fmt.Errorf("%w: message has neither method nor id", ErrInvalidMessage)
	}
	if hasResult && hasError {
		return fmt.Errorf("%w: response message cannot have both result and error fields", ErrInvalidMessage)
	}
	if !hasResult && !hasError {
		return fmt.Errorf("%w: response message must have either result or error field", ErrInvalidMessage)
	}
	if hasError {
		var e Error
		if err := json.Unmarshal(errRaw, &e); err != nil {
			return fmt.Errorf("%w: malformed error object: %v", ErrInvalidMessage, err)
		}
		out.Error = &e
	} else {
		out.Result = result
	}

	*m = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Kind classifies the message.
func (m *AnyMessage) Kind() Kind {
	if m.Method != "" {
		if m.ID == nil {
			return KindNotification
		}
		return KindRequest
	}
	return KindResponse
}

// Type returns the Kind as a plain string, for log attributes.
func (m *AnyMessage) Type() string {
	return string(m.Kind())
}

// AsRequest returns the message as a Request if it is a request or
// notification, otherwise nil.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}

	return &Request{
		JSONRPCVersion: m.JSONRPCVersion,
		Method:         m.Method,
		Params:         m.Params,
		ID:             m.ID,
	}
}

// AsResponse returns the message as a Response if it is a response message, otherwise nil.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}

	return &Response{
		JSONRPCVersion: m.JSONRPCVersion,
		Result:         m.Result,
		Error:          m.Error,
		ID:             m.ID,
	}
}

// PeekID makes a best-effort attempt to read the id of a frame that failed
// validation, so an InvalidRequest response can still be addressed.
func PeekID(data []byte) *RequestID {
	var probe struct {
		ID *RequestID `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil
	}
	if probe.ID.IsNil() {
		return nil
	}
	return probe.ID
}

// HasMethod reports whether data is a JSON object with a method member of any
// type. Frames without one are responses, or meant to be, and must never be
// answered.
func HasMethod(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, ok := probe["method"]
	return ok
}
