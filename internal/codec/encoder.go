package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/valyala/bytebufferpool"
)

var framePool bytebufferpool.Pool

type flusher interface {
	Flush() error
}

// Encoder writes framed messages. Encode may be called from many goroutines;
// each frame reaches the writer in a single Write under the encoder's lock.
type Encoder struct {
	mu     sync.Mutex
	w      io.Writer
	tracer Tracer
}

// NewEncoder wraps w. A nil tracer disables tracing.
func NewEncoder(w io.Writer, tracer Tracer) *Encoder {
	return &Encoder{w: w, tracer: tracer}
}

// Encode marshals v and writes it as one frame.
func (e *Encoder) Encode(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshal message: %w", err)
	}

	buf := framePool.Get()
	defer func() {
		buf.Reset()
		framePool.Put(buf)
	}()

	_, _ = buf.WriteString("Content-Length: ")
	buf.B = strconv.AppendInt(buf.B, int64(len(body)), 10)
	_, _ = buf.WriteString("\r\n\r\n")
	_, _ = buf.Write(body)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(buf.B); err != nil {
		return fmt.Errorf("codec: write frame: %w", err)
	}
	if f, ok := e.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("codec: flush frame: %w", err)
		}
	}
	if e.tracer != nil {
		e.tracer.Trace(Outbound, body)
	}
	return nil
}
