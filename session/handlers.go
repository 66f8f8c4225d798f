package session

import (
	"context"
	"encoding/json"

	"github.com/ggoodman/agent-jsonrpc-go/jsonrpc"
)

// HandleRequestFunc adapts a typed function to a RequestHandler. Params that
// do not decode into P are answered with InvalidParams.
func HandleRequestFunc[P, R any](fn func(ctx context.Context, params P) (R, error)) RequestHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
			}
		}
		return fn(ctx, p)
	}
}

// HandleNotificationFunc adapts a typed function to a NotificationHandler.
// Payloads that do not decode into P are dropped.
func HandleNotificationFunc[P any](fn func(ctx context.Context, params P)) NotificationHandler {
	return func(ctx context.Context, raw json.RawMessage) {
		var p P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return
			}
		}
		fn(ctx, p)
	}
}
