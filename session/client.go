package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

// NewClient builds a client session over raw streams and starts reading.
// The session stays in StateStarting until Initialize succeeds.
func NewClient(r io.Reader, w io.Writer, opts ...Option) (*Session, error) {
	var closers []io.Closer
	if c, ok := w.(io.Closer); ok {
		closers = append(closers, c)
	}
	if c, ok := r.(io.Closer); ok {
		closers = append(closers, c)
	}
	s, err := newSession(RoleClient, r, w, closers, opts)
	if err != nil {
		return nil, err
	}
	s.start()
	return s, nil
}

// Connect runs the handshake over an accepted or dialed connection and
// returns a ready session. The connection is closed if the handshake fails.
func Connect(ctx context.Context, conn io.ReadWriteCloser, info protocol.ClientInfo, opts ...Option) (*Session, error) {
	s, err := newSession(RoleClient, conn, conn, []io.Closer{conn}, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.start()
	if _, err := s.Initialize(ctx, info); err != nil {
		s.closeWith(err)
		return nil, err
	}
	return s, nil
}

// Dial connects to a worker listening on network/addr (for example "tcp" or
// "unix") and runs the handshake.
func Dial(ctx context.Context, network, addr string, info protocol.ClientInfo, opts ...Option) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial worker: %w", err)
	}
	return Connect(ctx, conn, info, opts...)
}

// Initialize performs the client half of the handshake: it sends initialize
// with info, waits for the worker's ServerInfo and then sends initialized.
// Only then does the session become ready.
func (s *Session) Initialize(ctx context.Context, info protocol.ClientInfo) (protocol.ServerInfo, error) {
	if s.role != RoleClient {
		return protocol.ServerInfo{}, errors.New("initialize is sent by client sessions")
	}
	s.mu.Lock()
	state, disposed := s.state, s.disposed
	s.mu.Unlock()
	if disposed {
		return protocol.ServerInfo{}, ErrDisposed
	}
	if state != StateStarting {
		return protocol.ServerInfo{}, fmt.Errorf("initialize in state %s", state)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.handshakeTimeout)
	defer cancel()
	start := time.Now()

	call, err := s.corr.Send(ctx, string(protocol.InitializeMethod), info)
	if err != nil {
		return protocol.ServerInfo{}, fmt.Errorf("initialize: %w", err)
	}
	raw, err := call.Wait(ctx)
	if err != nil {
		call.Abandon(err)
		s.log.ErrorContext(s.ctx, "session.handshake.err", slog.String("err", err.Error()))
		return protocol.ServerInfo{}, fmt.Errorf("initialize: %w", err)
	}

	var si protocol.ServerInfo
	if err := json.Unmarshal(raw, &si); err != nil {
		return protocol.ServerInfo{}, fmt.Errorf("initialize: decode server info: %w", err)
	}

	if err := s.corr.Notify(ctx, string(protocol.InitializedNotificationMethod), nil); err != nil {
		return protocol.ServerInfo{}, fmt.Errorf("initialized: %w", err)
	}

	s.mu.Lock()
	s.serverInfo = &si
	s.clientInfo = &info
	s.mu.Unlock()
	s.setState(StateReady)

	s.log.InfoContext(s.ctx, "session.handshake.ok",
		slog.String("server", si.Name),
		slog.Bool("authenticated", si.Authenticated),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return si, nil
}

// Dispose ends the session in order: shutdown, then exit, then termination of
// the worker. It is idempotent. After Dispose every call fails with
// ErrDisposed.
func (s *Session) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	wasReady := s.state == StateReady
	s.mu.Unlock()

	var errs []error
	if wasReady && s.role == RoleClient {
		s.setState(StateShuttingDown)

		sctx, cancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
		call, err := s.corr.Send(sctx, string(protocol.ShutdownMethod), nil)
		if err == nil {
			if _, err = call.Wait(sctx); err != nil {
				call.Abandon(err)
			}
		}
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		if err := s.corr.Notify(ctx, string(protocol.ExitNotificationMethod), nil); err != nil {
			errs = append(errs, fmt.Errorf("exit: %w", err))
		}
	}

	if s.proc != nil {
		s.proc.stop(s.closers, s.opts.shutdownTimeout)
	}
	s.closeWith(nil)

	err := errors.Join(errs...)
	if err != nil {
		s.log.WarnContext(s.ctx, "session.dispose.err", slog.String("err", err.Error()))
	}
	return err
}
