package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnyMessage_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		kind Kind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"msg":"hi"}}`, KindRequest},
		{"request with string id", `{"jsonrpc":"2.0","id":"abc","method":"echo"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"initialized","params":null}`, KindNotification},
		{"notification with null id", `{"jsonrpc":"2.0","id":null,"method":"exit"}`, KindNotification},
		{"result response", `{"jsonrpc":"2.0","id":1,"result":{"msg":"hi"}}`, KindResponse},
		{"null result response", `{"jsonrpc":"2.0","id":2,"result":null}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"nope"}}`, KindResponse},
		{"missing version is tolerated", `{"id":4,"result":true}`, KindResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var m AnyMessage
			require.NoError(t, json.Unmarshal([]byte(tt.in), &m))
			assert.Equal(t, tt.kind, m.Kind())
			assert.Equal(t, ProtocolVersion, m.JSONRPCVersion)
		})
	}
}

func TestAnyMessage_ShapeViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"x"}`},
		{"request with result", `{"jsonrpc":"2.0","id":1,"method":"x","result":1}`},
		{"response with both", `{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":1,"message":"x"}}`},
		{"response with neither", `{"jsonrpc":"2.0","id":1}`},
		{"response without id", `{"jsonrpc":"2.0","result":1}`},
		{"boolean id", `{"jsonrpc":"2.0","id":true,"method":"x"}`},
		{"non-string method", `{"jsonrpc":"2.0","id":1,"method":7}`},
		{"array", `[1,2,3]`},
		{"null", `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var m AnyMessage
			err := json.Unmarshal([]byte(tt.in), &m)
			require.Error(t, err)
		})
	}
}

func TestAnyMessage_ShapeErrorsWrapSentinel(t *testing.T) {
	t.Parallel()

	var m AnyMessage
	err := m.UnmarshalJSON([]byte(`{"jsonrpc":"2.0","id":1}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestResponse_MarshalKeepsExclusivity(t *testing.T) {
	t.Parallel()

	ok, err := NewResultResponse(NewRequestID(int64(7)), nil)
	require.NoError(t, err)
	b, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":null}`, string(b))

	fail := NewErrorResponse(NewRequestID("x"), ErrorCodeMethodNotFound, "method not found: nope", nil)
	b, err = json.Marshal(fail)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"x","error":{"code":-32601,"message":"method not found: nope"}}`, string(b))
}

func TestNewNotification_OmitsID(t *testing.T) {
	t.Parallel()

	n, err := NewNotification("$/cancelRequest", map[string]any{"id": 3})
	require.NoError(t, err)
	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"$/cancelRequest","params":{"id":3}}`, string(b))
}

func TestRequestID_KeySeparatesTypes(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, NewRequestID(1).Key(), NewRequestID("1").Key())
	assert.True(t, NewRequestID(1).Equal(NewRequestID(int64(1))))
	assert.True(t, NewRequestID(float64(1)).Equal(NewRequestID(1)))

	var id RequestID
	require.NoError(t, json.Unmarshal([]byte(`42`), &id))
	assert.Equal(t, int64(42), id.Value())
	assert.Equal(t, "42", id.String())
}

func TestError_IsCode(t *testing.T) {
	t.Parallel()

	var err error = NewError(ErrorCodeRequestCanceled, "canceled", nil)
	assert.True(t, IsCode(err, ErrorCodeRequestCanceled))
	assert.False(t, IsCode(err, ErrorCodeInternalError))
	assert.Contains(t, err.Error(), "RequestCanceled")
}

func TestPeekID(t *testing.T) {
	t.Parallel()

	assert.True(t, PeekID([]byte(`{"id":5,"method":1}`)).Equal(NewRequestID(5)))
	assert.Nil(t, PeekID([]byte(`{"method":"x"}`)))
	assert.Nil(t, PeekID([]byte(`not json`)))
}

func TestHasMethod(t *testing.T) {
	t.Parallel()

	assert.True(t, HasMethod([]byte(`{"id":5,"method":1}`)))
	assert.True(t, HasMethod([]byte(`{"method":"x"}`)))
	assert.False(t, HasMethod([]byte(`{"id":1,"result":1,"error":{"code":1,"message":"x"}}`)))
	assert.False(t, HasMethod([]byte(`[1,2]`)))
	assert.False(t, HasMethod([]byte(`not json`)))
}
