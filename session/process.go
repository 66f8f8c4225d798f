package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

// LaunchConfig describes how to spawn a worker process. The worker speaks
// the protocol on stdin/stdout and writes free-form diagnostics to stderr.
type LaunchConfig struct {
	Command string
	Args    []string
	Dir     string
	// Env is appended to the current environment.
	Env []string
	// Stderr receives the worker's stderr line by line. When nil, each line
	// is logged at debug level.
	Stderr io.Writer
}

type process struct {
	cmd      *exec.Cmd
	exited   chan struct{}
	waitErr  error
	killOnce sync.Once
}

func (p *process) kill() {
	p.killOnce.Do(func() {
		select {
		case <-p.exited:
		default:
			_ = p.cmd.Process.Kill()
		}
	})
}

// stop closes the worker's stdin and waits up to timeout for it to exit on
// its own before killing it.
func (p *process) stop(stdin []io.Closer, timeout time.Duration) {
	for _, c := range stdin {
		_ = c.Close()
	}
	select {
	case <-p.exited:
		return
	case <-time.After(timeout):
	}
	p.kill()
	<-p.exited
}

// Start spawns the worker described by cfg, wires its stdio to a new client
// session and performs the handshake. If the handshake fails the worker is
// killed and the error returned.
//
// Unexpected worker exit closes the session: pending calls are rejected with
// an error wrapping ErrConnectionClosed and Done is closed. The worker is not
// restarted.
func Start(ctx context.Context, cfg LaunchConfig, info protocol.ClientInfo, opts ...Option) (*Session, error) {
	if cfg.Command == "" {
		return nil, errors.New("launch config: command is required")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}

	s, err := newSession(RoleClient, stdout, stdin, []io.Closer{stdin}, opts)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	p := &process{cmd: cmd, exited: make(chan struct{})}
	s.proc = p
	s.log.InfoContext(s.ctx, "session.worker.start",
		slog.String("command", cfg.Command),
		slog.Int("pid", cmd.Process.Pid))

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		s.pumpStderr(stderr, cfg.Stderr)
	}()

	go func() {
		// Wait closes the pipes, so all reads must be finished first.
		<-s.readDone
		<-stderrDone
		p.waitErr = cmd.Wait()
		close(p.exited)

		s.log.InfoContext(s.ctx, "session.worker.exit",
			slog.Int("pid", cmd.Process.Pid),
			slog.Int("exit_code", cmd.ProcessState.ExitCode()))
		s.closeWith(s.exitCause(p.waitErr))
	}()

	s.start()
	if _, err := s.Initialize(ctx, info); err != nil {
		s.closeWith(err)
		<-p.exited
		return nil, err
	}
	return s, nil
}

func (s *Session) exitCause(waitErr error) error {
	s.mu.Lock()
	orderly := s.disposed || s.state == StateShuttingDown
	s.mu.Unlock()
	if orderly {
		return nil
	}
	if waitErr == nil {
		return fmt.Errorf("%w: worker exited unexpectedly", ErrConnectionClosed)
	}
	return fmt.Errorf("%w: worker exited unexpectedly: %v", ErrConnectionClosed, waitErr)
}

// pumpStderr copies the worker's diagnostics to the side channel. It keeps
// draining after a scan error so the worker never blocks on a full pipe.
func (s *Session) pumpStderr(r io.Reader, w io.Writer) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if w != nil {
			_, _ = fmt.Fprintln(w, line)
			continue
		}
		s.log.DebugContext(s.ctx, "session.worker.stderr", slog.String("line", line))
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
	}
}
