package http1

import (
	"fmt"

	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

var continueLine = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// responseWriter frames one response. The head is serialized by
// WriteHeader; Write then enforces the framing the head declared.
type responseWriter struct {
	s         *stream
	c         *conn
	header    wire.Headers
	status    int
	committed bool
	framing   wire.Framing
	written   int64
	chunked   *wire.ChunkedWriter
	err       error
}

var _ exchange.ResponseWriter = (*responseWriter)(nil)

func (w *responseWriter) Header() *wire.Headers {
	if w.committed {
		h := w.header.Clone()
		return &h
	}
	return &w.header
}

func (w *responseWriter) Committed() bool {
	return w.committed
}

func (w *responseWriter) WriteHeader(status int) error {
	if w.committed {
		return exchange.ErrHeadersSent
	}
	if status < 200 || status > 599 {
		return fmt.Errorf("%w: %d", exchange.ErrInvalidStatus, status)
	}
	if err := wire.ValidateFields(w.header); err != nil {
		return err
	}
	if err := w.s.waitTurn(); err != nil {
		return err
	}
	if !w.c.mayWrite(w.s.seq) {
		return exchange.ErrConnClosing
	}

	head := w.s.head
	closing := w.c.closesAfter(w.s.seq) ||
		w.header.HasToken("Connection", "close") ||
		w.s.body.awaitingContinue()
	framing, err := wire.ResponseBodyMode(status, w.header, head.IsHead(), closing)
	if err != nil {
		return err
	}

	h := w.header.Clone()
	if !head.Version.AtLeast(1, 1) && h.Has("Transfer-Encoding") {
		// HTTP/1.0 clients cannot decode chunked bodies.
		h.Del("Transfer-Encoding")
		if framing.Mode == wire.Chunked {
			framing = wire.Framing{Mode: wire.UntilClose}
		}
	}
	if framing.Mode == wire.UntilClose {
		closing = true
	}
	if closing {
		w.c.markClosing(w.s.seq)
	}
	h = w.c.decorate(h, closing, head.Version)

	w.c.setState(StateWritingResponse)
	buf := wire.AppendResponseHead(w.c.headBuf[:0], &wire.ResponseHead{Status: status, Header: h})
	w.c.headBuf = buf[:0]

	w.header = h
	w.status = status
	w.framing = framing
	w.committed = true
	if framing.Mode == wire.Chunked {
		w.chunked = wire.NewChunkedWriter(connWriter{w})
	}

	_, err = w.c.write(buf)
	return w.fail(err)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.committed {
		return 0, exchange.ErrHeadersNotSent
	}
	if w.err != nil {
		return 0, w.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	var n int
	var err error
	switch w.framing.Mode {
	case wire.Absent:
		if w.s.head.IsHead() {
			return len(p), nil
		}
		return 0, wire.ErrBodyNotAllowed
	case wire.FixedLength:
		if w.written+int64(len(p)) > w.framing.Length {
			return 0, fmt.Errorf("%w: %d bytes declared", wire.ErrContentLengthExceeded, w.framing.Length)
		}
		n, err = w.c.write(p)
	case wire.Chunked:
		n, err = w.chunked.Write(p)
	default:
		n, err = w.c.write(p)
	}
	w.written += int64(n)
	return n, w.fail(err)
}

func (w *responseWriter) Flush() error {
	if !w.committed {
		return exchange.ErrHeadersNotSent
	}
	if w.err != nil {
		return w.err
	}
	return w.fail(w.c.flush())
}

// sendContinue writes the interim 100 response unless a final response
// was already committed.
func (w *responseWriter) sendContinue() error {
	if w.committed {
		return nil
	}
	if err := w.s.waitTurn(); err != nil {
		return err
	}
	if !w.c.mayWrite(w.s.seq) {
		return exchange.ErrConnClosing
	}
	if _, err := w.c.write(continueLine); err != nil {
		return w.fail(err)
	}
	return w.fail(w.c.flush())
}

// complete ends the body and flushes it. A fixed-length body that is
// shorter than declared is a framing violation.
func (w *responseWriter) complete() error {
	if w.err != nil {
		return w.err
	}
	switch w.framing.Mode {
	case wire.FixedLength:
		if w.written != w.framing.Length {
			return fmt.Errorf("%w: wrote %d of %d bytes", wire.ErrFramingViolation, w.written, w.framing.Length)
		}
	case wire.Chunked:
		if err := w.chunked.Close(nil); err != nil {
			return w.fail(err)
		}
	}
	return w.fail(w.c.flush())
}

// incomplete reports whether a committed fixed-length body came up short.
func (w *responseWriter) incomplete() bool {
	return w.committed && w.framing.Mode == wire.FixedLength && w.written != w.framing.Length
}

// reset discards headers set before a failure so an error response starts
// clean.
func (w *responseWriter) reset() {
	w.header = nil
}

func (w *responseWriter) fail(err error) error {
	if err != nil && w.err == nil {
		w.err = err
		w.c.markBroken()
	}
	return err
}

// connWriter lets the chunked encoder write through the connection's
// deadline handling.
type connWriter struct {
	w *responseWriter
}

func (cw connWriter) Write(p []byte) (int, error) {
	return cw.w.c.write(p)
}
