package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_AddsGroupsFromContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Wrap(slog.New(slog.NewJSONHandler(&buf, nil))).With(slog.String("component", "test"))

	ctx := WithSessionData(context.Background(), &SessionData{SessionID: "s-1", Role: "client"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "echo", ID: "7", Type: "request"})
	log.InfoContext(ctx, "dispatch.request.ok")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "test", rec["component"])
	assert.Equal(t, map[string]any{"id": "s-1", "role": "client"}, rec["session"])
	assert.Equal(t, map[string]any{"method": "echo", "id": "7", "type": "request"}, rec["rpc"])
}

func TestWrap_IsIdempotent(t *testing.T) {
	t.Parallel()

	l := Wrap(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	assert.Same(t, l, Wrap(l))
	assert.Nil(t, Wrap(nil))
}
