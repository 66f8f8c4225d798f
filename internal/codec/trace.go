package codec

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Direction tells a Tracer which way a frame travelled.
type Direction string

const (
	Inbound  Direction = "<-"
	Outbound Direction = "->"
)

// Tracer observes raw message bodies.
type Tracer interface {
	Trace(dir Direction, body []byte)
}

// WriterTracer writes one "<dir> <body>" line per message.
type WriterTracer struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewWriterTracer traces to w.
func NewWriterTracer(w io.Writer) *WriterTracer {
	return &WriterTracer{w: w}
}

// NewFileTracer opens path for appending and traces to it.
func NewFileTracer(path string) (*WriterTracer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("codec: open trace file: %w", err)
	}
	return &WriterTracer{w: f, c: f}, nil
}

func (t *WriterTracer) Trace(dir Direction, body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.w, "%s %s\n", dir, body)
}

// Close releases the trace file, if any.
func (t *WriterTracer) Close() error {
	if t.c == nil {
		return nil
	}
	return t.c.Close()
}
