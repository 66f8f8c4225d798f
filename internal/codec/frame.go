// Package codec converts between byte streams and JSON-RPC messages using
// Content-Length framing:
//
//	Content-Length: 52\r\n
//	\r\n
//	{"jsonrpc":"2.0","id":1,"method":"echo","params":{}}
//
// Header names are matched case-insensitively and headers other than
// Content-Length are ignored.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultMaxFrameBytes bounds a single message body.
	DefaultMaxFrameBytes = 64 << 20
	// MaxHeaderBytes bounds the header block of a frame.
	MaxHeaderBytes = 8 << 10

	headerContentLength = "content-length"
)

var headerTerminator = []byte("\r\n\r\n")

var (
	// ErrMissingContentLength is returned when a header block has no usable
	// Content-Length. The stream cannot be resynchronized after this.
	ErrMissingContentLength = errors.New("codec: missing content-length header")
	// ErrInvalidContentLength is returned for a negative or non-numeric length.
	ErrInvalidContentLength = errors.New("codec: invalid content-length header")
	// ErrHeaderTooLarge is returned when no header terminator appears within
	// MaxHeaderBytes.
	ErrHeaderTooLarge = errors.New("codec: header block too large")
	// ErrFrameTooLarge is returned when the declared body length exceeds the
	// configured limit.
	ErrFrameTooLarge = errors.New("codec: frame too large")
)

// Limits configures frame bounds. Zero values fall back to defaults.
type Limits struct {
	MaxFrameBytes int
}

func (l Limits) maxFrame() int {
	if l.MaxFrameBytes <= 0 {
		return DefaultMaxFrameBytes
	}
	return l.MaxFrameBytes
}

// parseHeader reads the Content-Length out of a header block (without the
// trailing blank line).
func parseHeader(block []byte, limits Limits) (int, error) {
	length := -1
	for _, line := range bytes.Split(block, []byte("\r\n")) {
		if len(line) == 0 {
			continue
		}
		name, value, ok := strings.Cut(string(line), ":")
		if !ok {
			return 0, fmt.Errorf("%w: malformed header line %q", ErrMissingContentLength, line)
		}
		if strings.ToLower(strings.TrimSpace(name)) != headerContentLength {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, strings.TrimSpace(value))
		}
		length = n
	}
	if length < 0 {
		return 0, ErrMissingContentLength
	}
	if length > limits.maxFrame() {
		return 0, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, length, limits.maxFrame())
	}
	return length, nil
}
