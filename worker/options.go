package worker

import (
	"io"
	"log/slog"
	"time"

	"github.com/ggoodman/agent-jsonrpc-go/session"
)

// Option customizes a Worker.
type Option func(*Worker)

// WithIO sets the reader and writer the worker speaks the protocol on.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(wk *Worker) {
		if r != nil {
			wk.r = r
		}
		if w != nil {
			wk.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(wk *Worker) {
		if l != nil {
			wk.log = l
		}
	}
}

// WithName overrides the name reported in ServerInfo.
func WithName(name string) Option {
	return func(wk *Worker) {
		if name != "" {
			wk.name = name
		}
	}
}

// WithVersion sets the version reported in ServerInfo.
func WithVersion(v string) Option {
	return func(wk *Worker) {
		wk.version = v
	}
}

// WithRecipes adds recipes to the built-in set. A recipe with the id of a
// built-in one replaces it.
func WithRecipes(recipes ...Recipe) Option {
	return func(wk *Worker) {
		for _, r := range recipes {
			wk.recipes.add(r)
		}
	}
}

// WithProgressInterval sets the pause between progress/report notifications
// of the testing/progress requests.
func WithProgressInterval(d time.Duration) Option {
	return func(wk *Worker) {
		if d > 0 {
			wk.progressInterval = d
		}
	}
}

// WithSessionOptions passes options through to the server session, for
// example extra handlers, a tracer or a frame size limit.
func WithSessionOptions(opts ...session.Option) Option {
	return func(wk *Worker) {
		wk.sessionOpts = append(wk.sessionOpts, opts...)
	}
}
