package session

import (
	"io"
	"log/slog"
	"time"

	"github.com/ggoodman/agent-jsonrpc-go/internal/codec"
	"github.com/ggoodman/agent-jsonrpc-go/internal/dispatch"
	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

const (
	// DefaultHandshakeTimeout bounds the initialize exchange.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultShutdownTimeout bounds the shutdown request and the wait for
	// the worker process to exit.
	DefaultShutdownTimeout = 5 * time.Second
)

type options struct {
	log              *slog.Logger
	validator        dispatch.Validator
	limits           codec.Limits
	tracer           codec.Tracer
	handshakeTimeout time.Duration
	shutdownTimeout  time.Duration
	onClose          func(error)
	initializer      Initializer
	setup            []func(*Session) error
}

func defaultOptions() options {
	return options{
		log:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		validator:        protocol.DefaultRegistry(),
		handshakeTimeout: DefaultHandshakeTimeout,
		shutdownTimeout:  DefaultShutdownTimeout,
		initializer:      defaultInitializer,
	}
}

// Option customizes a Session.
type Option func(*options)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithValidator replaces the params validator. Passing nil disables
// validation.
func WithValidator(v dispatch.Validator) Option {
	return func(o *options) {
		o.validator = v
	}
}

// WithMaxFrameBytes bounds the size of a single incoming message.
func WithMaxFrameBytes(n int) Option {
	return func(o *options) {
		o.limits.MaxFrameBytes = n
	}
}

// WithTracer records every message body sent or received.
func WithTracer(t codec.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithHandshakeTimeout bounds the initialize exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithShutdownTimeout bounds the shutdown request and the wait for the
// worker to exit before it is killed.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithOnClose registers a callback that runs once when the session closes.
// err is nil for an orderly shutdown and describes the failure otherwise.
func WithOnClose(fn func(err error)) Option {
	return func(o *options) {
		o.onClose = fn
	}
}

// WithInitializer sets how a server session answers initialize.
func WithInitializer(fn Initializer) Option {
	return func(o *options) {
		if fn != nil {
			o.initializer = fn
		}
	}
}

// WithRequestHandler registers a request handler before the session starts
// reading.
func WithRequestHandler(method protocol.Method, h RequestHandler) Option {
	return func(o *options) {
		o.setup = append(o.setup, func(s *Session) error {
			return s.HandleRequest(method, h)
		})
	}
}

// WithNotificationHandler registers a notification handler before the
// session starts reading.
func WithNotificationHandler(method protocol.Method, h NotificationHandler) Option {
	return func(o *options) {
		o.setup = append(o.setup, func(s *Session) error {
			return s.HandleNotification(method, h)
		})
	}
}
