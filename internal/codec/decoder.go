package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ggoodman/agent-jsonrpc-go/jsonrpc"
)

// DecodeError describes one frame whose body could not be turned into a
// message. It never affects neighbouring frames.
type DecodeError struct {
	// Code is ParseError for invalid JSON and InvalidRequest for a valid JSON
	// value with the wrong shape.
	Code jsonrpc.ErrorCode
	// ID is the id of the offending frame when one could be recovered.
	ID *jsonrpc.RequestID
	// HasMethod is set when the frame carried a method member, so it was a
	// request or notification rather than a response.
	HasMethod bool
	Body      []byte
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Event is one decoded frame: either a Message or an Err.
type Event struct {
	Message *jsonrpc.AnyMessage
	Err     *DecodeError
}

// Decoder extracts messages from a byte stream delivered in arbitrary chunks.
// It is not safe for concurrent use; a session owns exactly one.
type Decoder struct {
	limits Limits
	tracer Tracer

	buf []byte
	// bodyLen is the pending body length once a header block was consumed,
	// or -1 while waiting for headers.
	bodyLen int
}

// NewDecoder constructs a Decoder. A nil tracer disables tracing.
func NewDecoder(limits Limits, tracer Tracer) *Decoder {
	return &Decoder{limits: limits, tracer: tracer, bodyLen: -1}
}

// Feed appends p to the internal buffer and returns an Event for every frame
// that is now complete. A non-nil error means the stream is corrupt at the
// framing level and no further frames can be trusted.
func (d *Decoder) Feed(p []byte) ([]Event, error) {
	d.buf = append(d.buf, p...)

	var events []Event
	for {
		if d.bodyLen < 0 {
			idx := bytes.Index(d.buf, headerTerminator)
			if idx < 0 {
				if len(d.buf) > MaxHeaderBytes {
					return events, ErrHeaderTooLarge
				}
				break
			}
			n, err := parseHeader(d.buf[:idx], d.limits)
			if err != nil {
				return events, err
			}
			d.bodyLen = n
			d.buf = d.buf[idx+len(headerTerminator):]
		}

		if len(d.buf) < d.bodyLen {
			break
		}

		body := make([]byte, d.bodyLen)
		copy(body, d.buf[:d.bodyLen])
		d.buf = d.buf[d.bodyLen:]
		d.bodyLen = -1

		events = append(events, d.decodeBody(body))
	}

	// Drop the consumed prefix so the backing array does not grow without bound.
	if len(d.buf) == 0 {
		d.buf = nil
	} else if cap(d.buf) > 4*len(d.buf) && cap(d.buf) > 64<<10 {
		d.buf = append([]byte(nil), d.buf...)
	}

	return events, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) decodeBody(body []byte) Event {
	if d.tracer != nil {
		d.tracer.Trace(Inbound, body)
	}

	if !json.Valid(body) {
		return Event{Err: &DecodeError{
			Code: jsonrpc.ErrorCodeParseError,
			Body: body,
			Err:  errors.New("invalid JSON"),
		}}
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return Event{Err: &DecodeError{
			Code:      jsonrpc.ErrorCodeInvalidRequest,
			ID:        jsonrpc.PeekID(body),
			HasMethod: jsonrpc.HasMethod(body),
			Body:      body,
			Err:       err,
		}}
	}
	return Event{Message: &msg}
}

// ReadFrom pumps r through Feed and hands each event to fn in stream order.
// It returns io.EOF when r ends cleanly between frames and
// io.ErrUnexpectedEOF when r ends inside a frame.
func (d *Decoder) ReadFrom(r io.Reader, fn func(Event)) error {
	chunk := make([]byte, 32<<10)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			events, ferr := d.Feed(chunk[:n])
			for _, ev := range events {
				fn(ev)
			}
			if ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && (len(d.buf) > 0 || d.bodyLen >= 0) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}
