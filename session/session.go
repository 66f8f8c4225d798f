package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/agent-jsonrpc-go/internal/codec"
	"github.com/ggoodman/agent-jsonrpc-go/internal/dispatch"
	"github.com/ggoodman/agent-jsonrpc-go/internal/logctx"
	"github.com/ggoodman/agent-jsonrpc-go/internal/outbound"
	"github.com/ggoodman/agent-jsonrpc-go/jsonrpc"
	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Role says which end of the protocol a Session plays.
type Role string

const (
	// RoleClient drives a worker: it sends initialize and shutdown.
	RoleClient Role = "client"
	// RoleServer is the worker end: it answers initialize and shutdown.
	RoleServer Role = "server"
)

type (
	// Call is the future returned by Send.
	Call = outbound.Call
	// RequestHandler answers a request with a result or an error.
	RequestHandler = dispatch.RequestHandler
	// NotificationHandler consumes a notification.
	NotificationHandler = dispatch.NotificationHandler
)

// Session is one end of an agent protocol connection. It owns the codec, the
// method tables and the pending outgoing requests for that connection, so
// any number of sessions can coexist in one process.
type Session struct {
	id   string
	role Role
	opts options
	log  *slog.Logger

	// ctx carries session log attributes and bounds request handlers. It is
	// canceled when the session closes.
	ctx    context.Context
	cancel context.CancelFunc

	r       io.Reader
	closers []io.Closer
	enc     *codec.Encoder
	dec     *codec.Decoder
	disp    *dispatch.Dispatcher
	corr    *outbound.Correlator
	proc    *process

	startOnce sync.Once
	readDone  chan struct{}

	mu         sync.Mutex
	state      State
	disposed   bool
	serverInfo *protocol.ServerInfo
	clientInfo *protocol.ClientInfo
	streams    map[protocol.Method]*stream
	routed     map[protocol.Method]bool

	// Server role bookkeeping.
	initializeSeen    bool
	initialized       bool
	shutdownRequested bool
	exitReceived      bool

	closeOnce sync.Once
	done      chan struct{}
	err       error
	closedErr error
}

func newSession(role Role, r io.Reader, w io.Writer, closers []io.Closer, opts []Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	log := logctx.Wrap(o.log)
	ctx, cancel := context.WithCancel(logctx.WithSessionData(context.Background(), &logctx.SessionData{
		SessionID: id,
		Role:      string(role),
	}))

	s := &Session{
		id:       id,
		role:     role,
		opts:     o,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		r:        r,
		closers:  closers,
		enc:      codec.NewEncoder(w, o.tracer),
		dec:      codec.NewDecoder(o.limits, o.tracer),
		readDone: make(chan struct{}),
		streams:  make(map[protocol.Method]*stream),
		routed:   make(map[protocol.Method]bool),
		done:     make(chan struct{}),
	}
	s.corr = outbound.New(transport{s: s})

	dopts := []dispatch.Option{dispatch.WithLogger(log), dispatch.WithValidator(o.validator)}
	if role == RoleServer {
		dopts = append(dopts, dispatch.WithGate(s.gate))
	}
	s.disp = dispatch.New(s.reply, dopts...)

	if role == RoleServer {
		if err := s.registerLifecycle(); err != nil {
			return nil, err
		}
	}
	for _, fn := range o.setup {
		if err := fn(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string { return s.id }

// Role returns which end of the protocol the session plays.
func (s *Session) Role() Role { return s.role }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session has closed, for whatever reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session closed: nil for an orderly shutdown, nil while
// the session is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ServerInfo returns the descriptor exchanged during initialize, once known.
func (s *Session) ServerInfo() *protocol.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// ClientInfo returns the descriptor exchanged during initialize, once known.
func (s *Session) ClientInfo() *protocol.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// HandleRequest registers the handler for a request method. Each method has
// at most one handler.
func (s *Session) HandleRequest(method protocol.Method, h RequestHandler) error {
	return s.disp.RegisterRequest(string(method), h)
}

// HandleNotification registers the handler for a notification method. Each
// method has at most one handler.
func (s *Session) HandleNotification(method protocol.Method, h NotificationHandler) error {
	return s.disp.RegisterNotification(string(method), h)
}

// Send writes a request and returns its future. It fails fast with
// ErrNotReady before the handshake and ErrDisposed after Dispose.
func (s *Session) Send(ctx context.Context, method protocol.Method, params any) (*Call, error) {
	if err := s.admit(); err != nil {
		return nil, err
	}
	return s.corr.Send(ctx, string(method), params)
}

// Notify writes a notification under the same admission rules as Send.
func (s *Session) Notify(ctx context.Context, method protocol.Method, params any) error {
	if err := s.admit(); err != nil {
		return err
	}
	return s.corr.Notify(ctx, string(method), params)
}

// Call sends a request and waits for its result, decoding it into result
// when result is non-nil. If ctx ends first, Call asks the peer to cancel
// and settles the request locally with the context error.
func (s *Session) Call(ctx context.Context, method protocol.Method, params any, result any) error {
	call, err := s.Send(ctx, method, params)
	if err != nil {
		return err
	}
	return s.await(ctx, call, result)
}

func (s *Session) await(ctx context.Context, call *Call, result any) error {
	raw, err := call.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			if cerr := s.corr.Cancel(context.Background(), call.ID()); cerr != nil && !errors.Is(cerr, outbound.ErrNotPending) {
				s.log.DebugContext(s.ctx, "session.cancel.err", slog.String("err", cerr.Error()))
			}
			call.Abandon(err)
		}
		return err
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("decode %s result: %w", call.Method(), err)
		}
	}
	return nil
}

// Cancel asks the peer to abandon the pending request id. It is advisory and
// does not settle the request.
func (s *Session) Cancel(ctx context.Context, id *jsonrpc.RequestID) error {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	return s.corr.Cancel(ctx, id)
}

// Pending returns the number of outgoing requests awaiting a response.
func (s *Session) Pending() int {
	return s.corr.Pending()
}

func (s *Session) admit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return s.closedErr
	case StateShuttingDown:
		// A worker may still report progress for requests it is finishing.
		if s.role == RoleServer {
			return nil
		}
		return ErrDisposed
	default:
		return ErrNotReady
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	if prev == StateClosed || prev == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	s.log.DebugContext(s.ctx, "session.state", slog.String("from", prev.String()), slog.String("to", next.String()))
}

// start launches the read loop once.
func (s *Session) start() {
	s.startOnce.Do(func() {
		go s.readLoop()
	})
}

func (s *Session) readLoop() {
	err := s.dec.ReadFrom(s.r, s.handleEvent)
	close(s.readDone)

	if errors.Is(err, io.EOF) && s.proc != nil {
		// The process waiter reports the exit status; give it a moment.
		select {
		case <-s.proc.exited:
			return
		case <-s.done:
			return
		case <-time.After(s.opts.shutdownTimeout):
		}
	}

	s.mu.Lock()
	orderly := s.exitReceived || s.disposed
	s.mu.Unlock()
	if orderly {
		s.closeWith(nil)
		return
	}
	if errors.Is(err, io.EOF) {
		s.closeWith(fmt.Errorf("%w: peer closed the stream", ErrConnectionClosed))
		return
	}
	s.closeWith(fmt.Errorf("%w: read: %v", ErrConnectionClosed, err))
}

func (s *Session) handleEvent(ev codec.Event) {
	if ev.Err != nil {
		s.log.WarnContext(s.ctx, "session.decode.err",
			slog.Int("code", int(ev.Err.Code)),
			slog.String("err", ev.Err.Err.Error()))
		switch {
		case ev.Err.ID == nil:
		case ev.Err.HasMethod:
			resp := jsonrpc.NewErrorResponse(ev.Err.ID, ev.Err.Code, ev.Err.Err.Error(), nil)
			go func() { _ = s.reply(s.ctx, resp) }()
		default:
			// A broken response is never answered; it fails the call it names.
			rerr := jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "malformed response: "+ev.Err.Err.Error(), nil)
			if !s.corr.Reject(ev.Err.ID, rerr) {
				s.log.WarnContext(s.ctx, "session.response.unmatched", slog.String("id", ev.Err.ID.String()))
			}
		}
		return
	}

	msg := ev.Message
	if msg.Kind() == jsonrpc.KindResponse {
		if !s.corr.OnResponse(msg.AsResponse()) {
			s.log.WarnContext(s.ctx, "session.response.unmatched", slog.String("id", msg.ID.String()))
		}
		return
	}
	s.disp.Dispatch(s.ctx, msg)
}

func (s *Session) reply(_ context.Context, resp *jsonrpc.Response) error {
	return s.write(resp)
}

func (s *Session) write(v any) error {
	select {
	case <-s.done:
		return s.closedErr
	default:
	}
	if err := s.enc.Encode(v); err != nil {
		s.closeWith(fmt.Errorf("%w: write: %v", ErrConnectionClosed, err))
		return err
	}
	return nil
}

type transport struct {
	s *Session
}

func (t transport) SendRequest(_ context.Context, req *jsonrpc.Request) error {
	return t.s.write(req)
}

// Close tears the session down immediately without the shutdown exchange.
// A spawned worker is killed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
	s.closeWith(nil)
	if s.proc != nil {
		<-s.proc.exited
	}
	return nil
}

// closeWith moves the session to closed exactly once. Every pending request
// is rejected with an error wrapping ErrConnectionClosed.
func (s *Session) closeWith(cause error) {
	first := false
	s.closeOnce.Do(func() {
		first = true
		pendingErr := ErrConnectionClosed
		if cause != nil {
			if errors.Is(cause, ErrConnectionClosed) {
				pendingErr = cause
			} else {
				pendingErr = fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
			}
		}

		s.mu.Lock()
		prev := s.state
		s.state = StateClosed
		s.err = cause
		s.closedErr = pendingErr
		for _, st := range s.streams {
			st.fail(pendingErr)
		}
		s.mu.Unlock()

		s.corr.Close(pendingErr)
		s.cancel()
		for _, c := range s.closers {
			_ = c.Close()
		}
		if s.proc != nil {
			s.proc.kill()
		}
		close(s.done)

		if cause != nil {
			s.log.ErrorContext(s.ctx, "session.closed.err",
				slog.String("from", prev.String()),
				slog.String("err", cause.Error()))
		} else {
			s.log.InfoContext(s.ctx, "session.closed", slog.String("from", prev.String()))
		}
	})
	if first && s.opts.onClose != nil {
		s.opts.onClose(cause)
	}
}
