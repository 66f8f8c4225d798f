package session

import (
	"errors"
	"io"
)

// Pipe returns the two ends of an in-memory, full-duplex connection. What is
// written to one end is read from the other. Closing either end makes reads
// on the peer return io.EOF.
func Pipe() (io.ReadWriteCloser, io.ReadWriteCloser) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &pipeEnd{r: ar, w: aw, peerW: bw}, &pipeEnd{r: br, w: bw, peerW: aw}
}

type pipeEnd struct {
	r     *io.PipeReader
	w     *io.PipeWriter
	peerW *io.PipeWriter
}

func (p *pipeEnd) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeEnd) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipeEnd) Close() error {
	return errors.Join(p.w.Close(), p.r.Close(), p.peerW.Close())
}
