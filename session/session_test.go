package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/agent-jsonrpc-go/internal/codec"
	"github.com/ggoodman/agent-jsonrpc-go/jsonrpc"
	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

var testInfo = protocol.ClientInfo{Name: "x", Version: "0.0.1", WorkspaceRootURI: "file:///tmp"}

type pair struct {
	client *Session
	server *Session
	served chan error
}

// newPair connects a client and a serving server session over Pipe. Neither
// side has performed the handshake yet.
func newPair(t *testing.T, serverOpts []Option, clientOpts ...Option) *pair {
	t.Helper()

	cconn, sconn := Pipe()
	srv, err := NewServer(sconn, sconn, serverOpts...)
	require.NoError(t, err)
	cli, err := NewClient(cconn, cconn, clientOpts...)
	require.NoError(t, err)

	p := &pair{client: cli, server: srv, served: make(chan error, 1)}
	go func() { p.served <- srv.Serve(context.Background()) }()

	t.Cleanup(func() {
		_ = cli.Close()
		_ = srv.Close()
	})
	return p
}

func (p *pair) initialize(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.client.Initialize(ctx, testInfo)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.server.State() == StateReady }, 2*time.Second, time.Millisecond)
}

func (p *pair) serveResult(t *testing.T) error {
	t.Helper()
	select {
	case err := <-p.served:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

func echoHandler() Option {
	return WithRequestHandler(protocol.EchoMethod, HandleRequestFunc(func(_ context.Context, p protocol.EchoParams) (protocol.EchoParams, error) {
		return p, nil
	}))
}

func TestSession_Handshake(t *testing.T) {
	t.Parallel()

	p := newPair(t, []Option{echoHandler()})
	assert.Equal(t, StateStarting, p.client.State())

	ctx := context.Background()
	si, err := p.client.Initialize(ctx, testInfo)
	require.NoError(t, err)
	assert.Equal(t, "agent", si.Name)
	assert.False(t, si.Authenticated)
	assert.Equal(t, StateReady, p.client.State())
	require.Eventually(t, func() bool { return p.server.State() == StateReady }, 2*time.Second, time.Millisecond)

	require.NotNil(t, p.server.ClientInfo())
	assert.Equal(t, "file:///tmp", p.server.ClientInfo().WorkspaceRootURI)

	var out protocol.EchoParams
	require.NoError(t, p.client.Call(ctx, protocol.EchoMethod, protocol.EchoParams{Msg: "hi"}, &out))
	assert.Equal(t, "hi", out.Msg)

	_, err = p.client.Initialize(ctx, testInfo)
	assert.Error(t, err, "a second initialize is refused locally")
}

func TestSession_NotReadyFailsFast(t *testing.T) {
	t.Parallel()

	p := newPair(t, []Option{echoHandler()})
	ctx := context.Background()

	_, err := p.client.Send(ctx, protocol.EchoMethod, protocol.EchoParams{Msg: "early"})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, p.client.Notify(ctx, protocol.TranscriptResetNotificationMethod, nil), ErrNotReady)
	assert.ErrorIs(t, p.client.Call(ctx, protocol.EchoMethod, protocol.EchoParams{Msg: "early"}, nil), ErrNotReady)
	assert.Zero(t, p.client.Pending())
}

func TestSession_ServerRefusesRequestsBeforeInitialize(t *testing.T) {
	t.Parallel()

	p := newPair(t, []Option{echoHandler()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Bypass the client's own admission check to reach the server gate.
	call, err := p.client.corr.Send(ctx, string(protocol.EchoMethod), protocol.EchoParams{Msg: "early"})
	require.NoError(t, err)
	_, err = call.Wait(ctx)
	assert.True(t, jsonrpc.IsCode(err, jsonrpc.ErrorCodeServerNotInitialized), "got %v", err)
}

func TestSession_ServerWaitsForInitializedNotification(t *testing.T) {
	t.Parallel()

	p := newPair(t, []Option{echoHandler()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Drive the handshake by hand so a request can slip in before initialized.
	call, err := p.client.corr.Send(ctx, string(protocol.InitializeMethod), testInfo)
	require.NoError(t, err)
	_, err = call.Wait(ctx)
	require.NoError(t, err)

	early, err := p.client.corr.Send(ctx, string(protocol.EchoMethod), protocol.EchoParams{Msg: "early"})
	require.NoError(t, err)
	_, err = early.Wait(ctx)
	assert.True(t, jsonrpc.IsCode(err, jsonrpc.ErrorCodeServerNotInitialized), "got %v", err)

	require.NoError(t, p.client.corr.Notify(ctx, string(protocol.InitializedNotificationMethod), nil))
	late, err := p.client.corr.Send(ctx, string(protocol.EchoMethod), protocol.EchoParams{Msg: "late"})
	require.NoError(t, err)
	raw, err := late.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"late"}`, string(raw))
}

func TestSession_InvalidInitializeParams(t *testing.T) {
	t.Parallel()

	p := newPair(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := p.client.Initialize(ctx, protocol.ClientInfo{})
	assert.True(t, jsonrpc.IsCode(err, jsonrpc.ErrorCodeInvalidParams), "got %v", err)
	assert.Equal(t, StateStarting, p.client.State())
}

func TestSession_MethodNotFound(t *testing.T) {
	t.Parallel()

	p := newPair(t, nil)
	p.initialize(t)

	err := p.client.Call(context.Background(), protocol.Method("nope/nothing"), nil, nil)
	var jerr *jsonrpc.Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, jsonrpc.ErrorCodeMethodNotFound, jerr.Code)
	assert.Equal(t, StateReady, p.client.State(), "protocol errors are not fatal")
}

func TestSession_DuplicateHandler(t *testing.T) {
	t.Parallel()

	p := newPair(t, []Option{echoHandler()})
	err := p.server.HandleRequest(protocol.EchoMethod, func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrDuplicateHandler)
	err = p.server.HandleRequest(protocol.InitializeMethod, func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrDuplicateHandler)
}

func TestSession_DisposeRunsShutdownThenExit(t *testing.T) {
	t.Parallel()

	var closedWith []error
	var mu sync.Mutex
	p := newPair(t, []Option{echoHandler()}, WithOnClose(func(err error) {
		mu.Lock()
		closedWith = append(closedWith, err)
		mu.Unlock()
	}))
	p.initialize(t)

	ctx := context.Background()
	require.NoError(t, p.client.Dispose(ctx))
	require.NoError(t, p.serveResult(t))

	assert.Equal(t, StateClosed, p.client.State())
	assert.NoError(t, p.client.Err())
	select {
	case <-p.client.Done():
	default:
		t.Fatal("client not done after dispose")
	}

	_, err := p.client.Send(ctx, protocol.EchoMethod, protocol.EchoParams{Msg: "late"})
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, p.client.Call(ctx, protocol.EchoMethod, nil, nil), ErrDisposed)
	assert.NoError(t, p.client.Dispose(ctx), "dispose is idempotent")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []error{nil}, closedWith)
}

func TestSession_ExitWithoutShutdown(t *testing.T) {
	t.Parallel()

	p := newPair(t, nil)
	p.initialize(t)

	require.NoError(t, p.client.corr.Notify(context.Background(), string(protocol.ExitNotificationMethod), nil))
	assert.ErrorIs(t, p.serveResult(t), ErrExitWithoutShutdown)
}

func TestSession_RequestsAfterShutdownAreRefused(t *testing.T) {
	t.Parallel()

	p := newPair(t, []Option{echoHandler()})
	p.initialize(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	call, err := p.client.corr.Send(ctx, string(protocol.ShutdownMethod), nil)
	require.NoError(t, err)
	raw, err := call.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(raw))
	assert.Equal(t, StateShuttingDown, p.server.State())

	call, err = p.client.corr.Send(ctx, string(protocol.EchoMethod), protocol.EchoParams{Msg: "late"})
	require.NoError(t, err)
	_, err = call.Wait(ctx)
	assert.True(t, jsonrpc.IsCode(err, jsonrpc.ErrorCodeInvalidRequest), "got %v", err)
}

func TestSession_CallCancelsOnContextExpiry(t *testing.T) {
	t.Parallel()

	causes := make(chan error, 1)
	block := WithRequestHandler(protocol.Method("testing/block"), func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		causes <- context.Cause(ctx)
		return nil, ctx.Err()
	})
	p := newPair(t, []Option{block})
	p.initialize(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.client.Call(ctx, protocol.Method("testing/block"), nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case cause := <-causes:
		assert.ErrorIs(t, cause, ErrRequestCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never observed the cancel")
	}

	// The late RequestCanceled response clears the pending entry without
	// disturbing the session.
	require.Eventually(t, func() bool { return p.client.Pending() == 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateReady, p.client.State())
}

func TestSession_CancelIsAdvisory(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := WithRequestHandler(protocol.Method("testing/slow"), func(context.Context, json.RawMessage) (any, error) {
		<-release
		return "finished", nil
	})
	p := newPair(t, []Option{slow})
	p.initialize(t)

	ctx := context.Background()
	call, err := p.client.Send(ctx, protocol.Method("testing/slow"), nil)
	require.NoError(t, err)
	require.NoError(t, p.client.Cancel(ctx, call.ID()))

	select {
	case <-call.Done():
		t.Fatal("cancel must not settle the call")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	raw, err := call.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `"finished"`, string(raw))
}

func TestSession_ServerToClientRequests(t *testing.T) {
	t.Parallel()

	ping := WithRequestHandler(protocol.Method("testing/ping"), func(_ context.Context, params json.RawMessage) (any, error) {
		return params, nil
	})
	p := newPair(t, nil, ping)
	p.initialize(t)

	var out map[string]int
	require.NoError(t, p.server.Call(context.Background(), protocol.Method("testing/ping"), map[string]int{"n": 3}, &out))
	assert.Equal(t, map[string]int{"n": 3}, out)
}

func TestSession_UnmatchedResponseIsDropped(t *testing.T) {
	t.Parallel()

	p := newPair(t, []Option{echoHandler()})
	p.initialize(t)

	stray, err := jsonrpc.NewResultResponse(jsonrpc.NewRequestID(999), "stray")
	require.NoError(t, err)
	require.NoError(t, p.server.write(stray))

	var out protocol.EchoParams
	require.NoError(t, p.client.Call(context.Background(), protocol.EchoMethod, protocol.EchoParams{Msg: "still here"}, &out))
	assert.Equal(t, "still here", out.Msg)
}

// rawPeer is the far end of a client session driven frame by frame.
type rawPeer struct {
	conn   io.ReadWriteCloser
	frames chan *jsonrpc.AnyMessage
}

func newRawPeer(t *testing.T) (*Session, *rawPeer) {
	t.Helper()
	cconn, pconn := Pipe()
	cli, err := NewClient(cconn, cconn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	p := &rawPeer{conn: pconn, frames: make(chan *jsonrpc.AnyMessage, 16)}
	go func() {
		defer close(p.frames)
		_ = codec.NewDecoder(codec.Limits{}, nil).ReadFrom(pconn, func(ev codec.Event) {
			if ev.Message != nil {
				p.frames <- ev.Message
			}
		})
	}()
	return cli, p
}

func (p *rawPeer) next(t *testing.T) *jsonrpc.AnyMessage {
	t.Helper()
	select {
	case msg, ok := <-p.frames:
		require.True(t, ok, "client closed the stream")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from client")
		return nil
	}
}

func (p *rawPeer) send(t *testing.T, body string) {
	t.Helper()
	_, err := fmt.Fprintf(p.conn, "Content-Length: %d\r\n\r\n%s", len(body), body)
	require.NoError(t, err)
}

// rest closes the client and returns every frame it wrote afterwards.
func (p *rawPeer) rest(t *testing.T, cli *Session) []*jsonrpc.AnyMessage {
	t.Helper()
	require.NoError(t, cli.Close())
	var out []*jsonrpc.AnyMessage
	for msg := range p.frames {
		out = append(out, msg)
	}
	return out
}

func TestSession_MalformedResponseRejectsCall(t *testing.T) {
	t.Parallel()

	cli, peer := newRawPeer(t)
	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := cli.Initialize(ctx, testInfo)
		errc <- err
	}()

	req := peer.next(t)
	require.Equal(t, string(protocol.InitializeMethod), req.Method)
	id, err := json.Marshal(req.ID)
	require.NoError(t, err)
	peer.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"name":"agent"},"error":{"code":-1,"message":"x"}}`, id))

	select {
	case err := <-errc:
		assert.True(t, jsonrpc.IsCode(err, jsonrpc.ErrorCodeInvalidRequest), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("initialize did not settle on a malformed response")
	}
	assert.Zero(t, cli.Pending())
	assert.Empty(t, peer.rest(t, cli), "a malformed response is never answered")
}

func TestSession_MalformedStrayResponseIsDropped(t *testing.T) {
	t.Parallel()

	cli, peer := newRawPeer(t)
	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := cli.Initialize(ctx, testInfo)
		errc <- err
	}()

	req := peer.next(t)
	id, err := json.Marshal(req.ID)
	require.NoError(t, err)
	peer.send(t, `{"jsonrpc":"2.0","id":999,"result":1,"error":{"code":-1,"message":"x"}}`)
	peer.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"name":"agent","authenticated":false}}`, id))

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("initialize did not complete")
	}

	initialized := peer.next(t)
	assert.Equal(t, jsonrpc.KindNotification, initialized.Kind())
	assert.Equal(t, string(protocol.InitializedNotificationMethod), initialized.Method)
	assert.Empty(t, peer.rest(t, cli))
}

func TestSession_PeerCloseRejectsPending(t *testing.T) {
	t.Parallel()

	closed := make(chan error, 1)
	hang := WithRequestHandler(protocol.Method("testing/hang"), func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := newPair(t, []Option{hang}, WithOnClose(func(err error) { closed <- err }))
	p.initialize(t)

	ctx := context.Background()
	call, err := p.client.Send(ctx, protocol.Method("testing/hang"), nil)
	require.NoError(t, err)

	require.NoError(t, p.server.Close())

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = call.Wait(wctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("dead-session event not surfaced")
	}
	assert.Equal(t, StateClosed, p.client.State())
	assert.ErrorIs(t, p.client.Err(), ErrConnectionClosed)

	_, err = p.client.Send(ctx, protocol.EchoMethod, nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestSession_StreamGuard(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	const notify = protocol.ChatUpdateMessageInProgressNotificationMethod
	p := newPair(t, nil)
	require.NoError(t, p.server.HandleRequest(protocol.RecipesExecuteMethod, func(ctx context.Context, _ json.RawMessage) (any, error) {
		st := p.server.NewStreamer(notify)
		for _, text := range []string{"a", "ab"} {
			if err := st.Partial(ctx, protocol.ChatMessage{Speaker: "assistant", Text: text}); err != nil {
				return nil, err
			}
		}
		<-release
		return nil, st.End(ctx)
	}))
	p.initialize(t)

	var mu sync.Mutex
	var got []string
	ctx := context.Background()
	errc := make(chan error, 1)
	go func() {
		errc <- p.client.Stream(ctx, protocol.RecipesExecuteMethod, protocol.ExecuteRecipeParams{ID: "chat-question"}, notify, func(raw json.RawMessage) {
			var m protocol.ChatMessage
			if err := json.Unmarshal(raw, &m); err == nil {
				mu.Lock()
				got = append(got, m.Text)
				mu.Unlock()
			}
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, time.Millisecond)

	err := p.client.Stream(ctx, protocol.RecipesExecuteMethod, protocol.ExecuteRecipeParams{ID: "chat-question"}, notify, func(json.RawMessage) {})
	assert.ErrorIs(t, err, ErrStreamBusy)

	close(release)
	require.NoError(t, <-errc)
	mu.Lock()
	assert.Equal(t, []string{"a", "ab"}, got)
	mu.Unlock()
}

func TestSession_AbandonedStreamHoldsGuardUntilEnd(t *testing.T) {
	t.Parallel()

	const notify = protocol.Method("testing/chunk")
	p := newPair(t, nil)
	require.NoError(t, p.server.HandleRequest(protocol.Method("testing/slow"), func(ctx context.Context, _ json.RawMessage) (any, error) {
		ctx = context.WithoutCancel(ctx)
		st := p.server.NewStreamer(notify)
		for i := 0; i < 5; i++ {
			if err := st.Partial(ctx, map[string]string{"from": fmt.Sprintf("first-%d", i)}); err != nil {
				return nil, err
			}
			time.Sleep(60 * time.Millisecond)
		}
		return nil, st.End(ctx)
	}))
	require.NoError(t, p.server.HandleRequest(protocol.Method("testing/fast"), func(ctx context.Context, _ json.RawMessage) (any, error) {
		st := p.server.NewStreamer(notify)
		if err := st.Partial(ctx, map[string]string{"from": "second"}); err != nil {
			return nil, err
		}
		return nil, st.End(ctx)
	}))
	p.initialize(t)

	var mu sync.Mutex
	var second []string
	collect := func(raw json.RawMessage) {
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err == nil {
			mu.Lock()
			second = append(second, m["from"])
			mu.Unlock()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.client.Stream(ctx, protocol.Method("testing/slow"), nil, notify, func(json.RawMessage) {})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	err = p.client.Stream(context.Background(), protocol.Method("testing/fast"), nil, notify, collect)
	require.ErrorIs(t, err, ErrStreamBusy, "the abandoned operation has not ended yet")

	deadline := time.Now().Add(3 * time.Second)
	for errors.Is(err, ErrStreamBusy) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		err = p.client.Stream(context.Background(), protocol.Method("testing/fast"), nil, notify, collect)
	}
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second"}, second)
}

func TestSession_StreamFailsWhenSessionCloses(t *testing.T) {
	t.Parallel()

	const notify = protocol.ChatUpdateMessageInProgressNotificationMethod
	started := make(chan struct{})
	p := newPair(t, nil)
	require.NoError(t, p.server.HandleRequest(protocol.RecipesExecuteMethod, func(ctx context.Context, _ json.RawMessage) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	p.initialize(t)

	errc := make(chan error, 1)
	go func() {
		errc <- p.client.Stream(context.Background(), protocol.RecipesExecuteMethod, protocol.ExecuteRecipeParams{ID: "x"}, notify, func(json.RawMessage) {})
	}()
	<-started
	require.NoError(t, p.server.Close())

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrConnectionClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not fail")
	}
}

func TestSession_SessionsAreIndependent(t *testing.T) {
	t.Parallel()

	a := newPair(t, []Option{echoHandler()})
	b := newPair(t, nil)
	a.initialize(t)
	b.initialize(t)

	assert.NotEqual(t, a.client.ID(), b.client.ID())
	require.NoError(t, a.client.Call(context.Background(), protocol.EchoMethod, protocol.EchoParams{Msg: "a"}, nil))

	err := b.client.Call(context.Background(), protocol.EchoMethod, protocol.EchoParams{Msg: "b"}, nil)
	assert.True(t, jsonrpc.IsCode(err, jsonrpc.ErrorCodeMethodNotFound), "got %v", err)
}
