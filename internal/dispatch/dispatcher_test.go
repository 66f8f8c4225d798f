package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/agent-jsonrpc-go/jsonrpc"
)

type harness struct {
	d     *Dispatcher
	resps chan *jsonrpc.Response
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{resps: make(chan *jsonrpc.Response, 64)}
	h.d = New(func(_ context.Context, resp *jsonrpc.Response) error {
		h.resps <- resp
		return nil
	}, opts...)
	return h
}

func (h *harness) request(t *testing.T, id any, method string, params any) {
	t.Helper()
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, params)
	require.NoError(t, err)
	h.d.Dispatch(context.Background(), &jsonrpc.AnyMessage{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: req.Method, Params: req.Params, ID: req.ID})
}

func (h *harness) notify(t *testing.T, method string, params any) {
	t.Helper()
	n, err := jsonrpc.NewNotification(method, params)
	require.NoError(t, err)
	h.d.Dispatch(context.Background(), &jsonrpc.AnyMessage{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: n.Method, Params: n.Params})
}

func (h *harness) next(t *testing.T) *jsonrpc.Response {
	t.Helper()
	select {
	case r := <-h.resps:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func (h *harness) expectNone(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.resps:
		t.Fatalf("unexpected response: %+v", r)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestDispatcher_RequestResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.d.RegisterRequest("echo", func(_ context.Context, params json.RawMessage) (any, error) {
		return params, nil
	}))

	h.request(t, 1, "echo", map[string]string{"msg": "hi"})
	resp := h.next(t)
	require.Nil(t, resp.Error)
	assert.True(t, resp.ID.Equal(jsonrpc.NewRequestID(1)))
	assert.JSONEq(t, `{"msg":"hi"}`, string(resp.Result))
	h.expectNone(t)
}

func TestDispatcher_NilResultIsNull(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.d.RegisterRequest("shutdown", func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	}))
	h.request(t, "s", "shutdown", nil)
	resp := h.next(t)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `null`, string(resp.Result))
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.request(t, 9, "nope", nil)
	resp := h.next(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeMethodNotFound, resp.Error.Code)
	assert.True(t, resp.ID.Equal(jsonrpc.NewRequestID(9)))

	// Unknown notifications are ignored without a response.
	h.notify(t, "nope", nil)
	h.expectNone(t)
}

func TestDispatcher_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	noop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	require.NoError(t, h.d.RegisterRequest("m", noop))
	assert.ErrorIs(t, h.d.RegisterRequest("m", noop), ErrDuplicateHandler)

	require.NoError(t, h.d.RegisterNotification("n", func(context.Context, json.RawMessage) {}))
	assert.ErrorIs(t, h.d.RegisterNotification("n", func(context.Context, json.RawMessage) {}), ErrDuplicateHandler)
	assert.ErrorIs(t, h.d.RegisterNotification(CancelMethod, func(context.Context, json.RawMessage) {}), ErrDuplicateHandler)
}

func TestDispatcher_ErrorTranslation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler RequestHandler
		code    jsonrpc.ErrorCode
		message string
	}{
		{
			name:    "plain error",
			handler: func(context.Context, json.RawMessage) (any, error) { return nil, errors.New("boom") },
			code:    jsonrpc.ErrorCodeInternalError,
			message: "boom",
		},
		{
			name: "jsonrpc error passes through",
			handler: func(context.Context, json.RawMessage) (any, error) {
				return nil, fmt.Errorf("wrapped: %w", jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "msg is required", nil))
			},
			code:    jsonrpc.ErrorCodeInvalidParams,
			message: "msg is required",
		},
		{
			name:    "rate limited",
			handler: func(context.Context, json.RawMessage) (any, error) { return nil, fmt.Errorf("upstream: %w", ErrRateLimited) },
			code:    jsonrpc.ErrorCodeRateLimit,
			message: "upstream: rate limited",
		},
		{
			name:    "panic",
			handler: func(context.Context, json.RawMessage) (any, error) { panic("kaboom") },
			code:    jsonrpc.ErrorCodeInternalError,
			message: "handler panic: kaboom",
		},
		{
			name:    "unmarshalable result",
			handler: func(context.Context, json.RawMessage) (any, error) { return make(chan int), nil },
			code:    jsonrpc.ErrorCodeInternalError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			require.NoError(t, h.d.RegisterRequest("m", tt.handler))
			h.request(t, 1, "m", nil)
			resp := h.next(t)
			require.NotNil(t, resp.Error)
			assert.Nil(t, resp.Result)
			assert.Equal(t, tt.code, resp.Error.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Error.Message)
			}
			h.expectNone(t)
		})
	}
}

func TestDispatcher_RequestsRunConcurrently(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	require.NoError(t, h.d.RegisterRequest("block", func(context.Context, json.RawMessage) (any, error) {
		started.Done()
		<-release
		return "done", nil
	}))

	h.request(t, 1, "block", nil)
	h.request(t, 2, "block", nil)

	// Both handlers must be running at once for this to return.
	started.Wait()
	assert.Equal(t, 2, h.d.InFlight())
	close(release)
	h.next(t)
	h.next(t)
	h.d.Wait()
	assert.Zero(t, h.d.InFlight())
}

func TestDispatcher_CancelRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	started := make(chan struct{})
	require.NoError(t, h.d.RegisterRequest("slow", func(ctx context.Context, _ json.RawMessage) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	h.request(t, 5, "slow", nil)
	<-started
	h.notify(t, CancelMethod, map[string]any{"id": 5})

	resp := h.next(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeRequestCanceled, resp.Error.Code)
}

func TestDispatcher_CancelReachesReusedID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	releaseFirst := make(chan struct{})
	started := make(chan string, 2)
	require.NoError(t, h.d.RegisterRequest("first", func(context.Context, json.RawMessage) (any, error) {
		started <- "first"
		<-releaseFirst
		return "first done", nil
	}))
	require.NoError(t, h.d.RegisterRequest("second", func(ctx context.Context, _ json.RawMessage) (any, error) {
		started <- "second"
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	h.request(t, 7, "first", nil)
	assert.Equal(t, "first", <-started)
	h.request(t, 7, "second", nil)
	assert.Equal(t, "second", <-started)

	close(releaseFirst)
	resp := h.next(t)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `"first done"`, string(resp.Result))

	h.notify(t, CancelMethod, map[string]any{"id": 7})
	resp = h.next(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeRequestCanceled, resp.Error.Code)
}

func TestDispatcher_CancelIsAdvisory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	started := make(chan struct{})
	proceed := make(chan struct{})
	require.NoError(t, h.d.RegisterRequest("stubborn", func(context.Context, json.RawMessage) (any, error) {
		close(started)
		<-proceed
		return "finished anyway", nil
	}))

	h.request(t, "a", "stubborn", nil)
	<-started
	h.notify(t, CancelMethod, map[string]any{"id": "a"})
	// Unknown and malformed cancels are ignored.
	h.notify(t, CancelMethod, map[string]any{"id": "zzz"})
	h.notify(t, CancelMethod, "garbage")
	close(proceed)

	resp := h.next(t)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `"finished anyway"`, string(resp.Result))
}

func TestDispatcher_NotificationsRunInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var got []int
	require.NoError(t, h.d.RegisterNotification("tick", func(_ context.Context, params json.RawMessage) {
		var n int
		require.NoError(t, json.Unmarshal(params, &n))
		got = append(got, n)
	}))
	require.NoError(t, h.d.RegisterNotification("panics", func(context.Context, json.RawMessage) {
		panic("ignored")
	}))

	for i := 0; i < 10; i++ {
		h.notify(t, "tick", i)
		h.notify(t, "panics", nil)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	h.expectNone(t)
}

type rejectAll struct{}

func (rejectAll) Validate(method string, _ json.RawMessage) error {
	return validationErr{method: method}
}

type validationErr struct{ method string }

func (e validationErr) Error() string { return "bad params for " + e.method }
func (e validationErr) ErrorData() any {
	return map[string]any{"violations": []string{"msg: is required"}}
}

func TestDispatcher_ValidatorRunsBeforeHandler(t *testing.T) {
	t.Parallel()

	h := newHarness(t, WithValidator(rejectAll{}))
	called := false
	require.NoError(t, h.d.RegisterRequest("echo", func(context.Context, json.RawMessage) (any, error) {
		called = true
		return nil, nil
	}))

	h.request(t, 1, "echo", map[string]any{})
	resp := h.next(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, resp.Error.Code)
	assert.Equal(t, map[string]any{"violations": []string{"msg: is required"}}, resp.Error.Data)
	assert.False(t, called)
}

func TestDispatcher_GateRefusesBeforeLookup(t *testing.T) {
	t.Parallel()

	h := newHarness(t, WithGate(func(method string) *jsonrpc.Error {
		if method == "initialize" {
			return nil
		}
		return jsonrpc.NewError(jsonrpc.ErrorCodeServerNotInitialized, "not initialized", nil)
	}))
	require.NoError(t, h.d.RegisterRequest("initialize", func(context.Context, json.RawMessage) (any, error) {
		return "ok", nil
	}))

	h.request(t, 1, "echo", nil)
	resp := h.next(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeServerNotInitialized, resp.Error.Code)

	h.request(t, 2, "initialize", nil)
	resp = h.next(t)
	assert.Nil(t, resp.Error)
}

func TestDispatcher_InvalidNotificationIsDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, WithValidator(rejectAll{}))
	called := false
	require.NoError(t, h.d.RegisterNotification("textDocument/didOpen", func(context.Context, json.RawMessage) {
		called = true
	}))

	h.notify(t, "textDocument/didOpen", map[string]any{})
	assert.False(t, called)
	h.expectNone(t)
}
