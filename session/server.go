package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/ggoodman/agent-jsonrpc-go/jsonrpc"
	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

// Initializer produces the worker's answer to initialize.
type Initializer func(ctx context.Context, info protocol.ClientInfo) (protocol.ServerInfo, error)

func defaultInitializer(context.Context, protocol.ClientInfo) (protocol.ServerInfo, error) {
	return protocol.ServerInfo{Name: "agent"}, nil
}

// NewServer builds the worker end of a session over raw streams. Register
// handlers, then call Serve. The lifecycle methods (initialize, initialized,
// shutdown and exit) are handled by the session itself.
func NewServer(r io.Reader, w io.Writer, opts ...Option) (*Session, error) {
	var closers []io.Closer
	if c, ok := w.(io.Closer); ok {
		closers = append(closers, c)
	}
	if c, ok := r.(io.Closer); ok {
		closers = append(closers, c)
	}
	return newSession(RoleServer, r, w, closers, opts)
}

// Serve reads and dispatches messages until the session closes or ctx ends.
// It returns nil after shutdown followed by exit, ErrExitWithoutShutdown
// when exit arrives first, and otherwise the reason the session closed.
func (s *Session) Serve(ctx context.Context) error {
	if s.role != RoleServer {
		return fmt.Errorf("serve requires a server session, have %s", s.role)
	}
	s.start()

	select {
	case <-s.done:
	case <-ctx.Done():
		s.closeWith(ctx.Err())
	}

	s.mu.Lock()
	exited, shutdown, err := s.exitReceived, s.shutdownRequested, s.err
	s.mu.Unlock()

	switch {
	case exited && shutdown:
		return nil
	case exited:
		return ErrExitWithoutShutdown
	case err != nil:
		return err
	default:
		return ErrConnectionClosed
	}
}

func (s *Session) registerLifecycle() error {
	if err := s.disp.RegisterRequest(string(protocol.InitializeMethod), s.handleInitialize); err != nil {
		return err
	}
	if err := s.disp.RegisterNotification(string(protocol.InitializedNotificationMethod), s.handleInitialized); err != nil {
		return err
	}
	if err := s.disp.RegisterRequest(string(protocol.ShutdownMethod), s.handleShutdown); err != nil {
		return err
	}
	return s.disp.RegisterNotification(string(protocol.ExitNotificationMethod), s.handleExit)
}

// gate enforces the worker lifecycle for incoming requests. Only initialize
// is served until the initialized notification has arrived.
func (s *Session) gate(method string) *jsonrpc.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if method == string(protocol.InitializeMethod) {
		return nil
	}
	if !s.initialized {
		return jsonrpc.NewError(jsonrpc.ErrorCodeServerNotInitialized, "server not initialized", nil)
	}
	if s.shutdownRequested {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "server is shutting down", nil)
	}
	return nil
}

func (s *Session) handleInitialize(ctx context.Context, params json.RawMessage) (any, error) {
	var info protocol.ClientInfo
	if err := json.Unmarshal(params, &info); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
	}

	s.mu.Lock()
	if s.initializeSeen {
		s.mu.Unlock()
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "already initialized", nil)
	}
	s.initializeSeen = true
	s.clientInfo = &info
	s.mu.Unlock()

	si, err := s.opts.initializer(ctx, info)
	if err != nil {
		s.mu.Lock()
		s.initializeSeen = false
		s.clientInfo = nil
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.serverInfo = &si
	s.mu.Unlock()

	s.log.InfoContext(ctx, "session.initialize",
		slog.String("client", info.Name),
		slog.String("client_version", info.Version),
		slog.String("workspace_root", info.WorkspaceRootURI))
	return si, nil
}

func (s *Session) handleInitialized(ctx context.Context, _ json.RawMessage) {
	s.mu.Lock()
	answered := s.serverInfo != nil
	if answered {
		s.initialized = true
	}
	s.mu.Unlock()
	if !answered {
		s.log.WarnContext(ctx, "session.initialized.early")
		return
	}
	s.setState(StateReady)
}

func (s *Session) handleShutdown(ctx context.Context, _ json.RawMessage) (any, error) {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.setState(StateShuttingDown)
	s.log.InfoContext(ctx, "session.shutdown")
	return nil, nil
}

func (s *Session) handleExit(ctx context.Context, _ json.RawMessage) {
	s.mu.Lock()
	s.exitReceived = true
	shutdown := s.shutdownRequested
	s.mu.Unlock()
	if !shutdown {
		s.log.WarnContext(ctx, "session.exit.without_shutdown")
	}
	s.closeWith(nil)
}
