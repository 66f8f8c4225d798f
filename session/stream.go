package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

var nullPayload = json.RawMessage("null")

// stream is the caller-side state of one streaming operation.
type stream struct {
	fn   func(json.RawMessage)
	once sync.Once
	done chan struct{}
	err  error

	// abandoned is set, under Session.mu, when the caller stopped waiting
	// before the terminating payload. The entry then stays registered and
	// swallows the remaining output until the null arrives.
	abandoned bool
}

func (st *stream) finish(err error) {
	st.once.Do(func() {
		st.err = err
		close(st.done)
	})
}

func (st *stream) fail(err error) { st.finish(err) }

// Stream runs a long-running operation that acknowledges with a null result
// and delivers its output as notifications on notify, ended by a null
// payload. fn receives every non-null payload in emission order. Stream
// returns once the terminating payload arrives.
//
// The notifications do not name the request they belong to, so only one
// operation per notify method may be in flight; a second concurrent Stream
// fails with ErrStreamBusy. When ctx ends first, the operation keeps the
// notify method busy until its terminating payload arrives, and its
// remaining output is discarded.
func (s *Session) Stream(ctx context.Context, method protocol.Method, params any, notify protocol.Method, fn func(json.RawMessage)) error {
	if err := s.admit(); err != nil {
		return err
	}
	if err := s.ensureRoute(notify); err != nil {
		return err
	}

	st := &stream{fn: fn, done: make(chan struct{})}
	s.mu.Lock()
	if _, busy := s.streams[notify]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamBusy, notify)
	}
	s.streams[notify] = st
	s.mu.Unlock()

	err := s.Call(ctx, method, params, nil)
	if err == nil {
		select {
		case <-st.done:
			err = st.err
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	s.release(notify, st, ctx.Err() != nil)
	return err
}

// release drops the stream registration, unless the caller gave up before
// the terminating payload; the entry is then kept and marked abandoned.
func (s *Session) release(notify protocol.Method, st *stream, gaveUp bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams[notify] != st {
		return
	}
	ended := false
	select {
	case <-st.done:
		ended = true
	default:
	}
	if gaveUp && !ended {
		st.abandoned = true
		return
	}
	delete(s.streams, notify)
}

// ensureRoute installs the notification handler that feeds active streams
// for notify.
func (s *Session) ensureRoute(notify protocol.Method) error {
	s.mu.Lock()
	routed := s.routed[notify]
	if !routed {
		s.routed[notify] = true
	}
	s.mu.Unlock()
	if routed {
		return nil
	}

	err := s.disp.RegisterNotification(string(notify), func(ctx context.Context, params json.RawMessage) {
		end := len(params) == 0 || bytes.Equal(bytes.TrimSpace(params), nullPayload)

		s.mu.Lock()
		st := s.streams[notify]
		abandoned := st != nil && st.abandoned
		if abandoned && end {
			delete(s.streams, notify)
		}
		s.mu.Unlock()

		if st == nil {
			s.log.WarnContext(ctx, "session.stream.orphan", slog.String("method", string(notify)))
			return
		}
		if abandoned {
			s.log.DebugContext(ctx, "session.stream.abandoned", slog.String("method", string(notify)), slog.Bool("end", end))
			return
		}
		select {
		case <-st.done:
			s.log.WarnContext(ctx, "session.stream.after_end", slog.String("method", string(notify)))
			return
		default:
		}
		if end {
			st.finish(nil)
			return
		}
		st.fn(params)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.routed, notify)
		s.mu.Unlock()
		return fmt.Errorf("stream %s: %w", notify, err)
	}
	return nil
}

// Streamer emits the output of one long-running operation from the worker
// side.
type Streamer struct {
	s      *Session
	method protocol.Method
	once   sync.Once
}

// NewStreamer returns a Streamer that notifies on method.
func (s *Session) NewStreamer(method protocol.Method) *Streamer {
	return &Streamer{s: s, method: method}
}

// Partial sends one piece of output.
func (st *Streamer) Partial(ctx context.Context, v any) error {
	return st.s.Notify(ctx, st.method, v)
}

// End sends the terminating null payload. Only the first call has an effect.
func (st *Streamer) End(ctx context.Context) error {
	var err error
	st.once.Do(func() {
		err = st.s.Notify(ctx, st.method, nullPayload)
	})
	return err
}
