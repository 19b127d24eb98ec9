package http1

import (
	"io"
	"sync"

	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

// requestBody streams a request body straight from the connection's
// reader. It never buffers the whole body.
type requestBody struct {
	s       *stream
	c       *conn
	framing wire.Framing
	src     io.Reader
	fixed   *wire.FixedReader
	chunked *wire.ChunkedReader
	buf     []byte

	mu             sync.Mutex
	expectContinue bool
	continueSent   bool
	eof            bool
	detached       bool
	err            error

	// released is closed once the reader loop may use the input again:
	// at the end of the body or when the handler returns.
	released    chan struct{}
	releaseOnce sync.Once
}

var _ exchange.Body = (*requestBody)(nil)

func newRequestBody(s *stream, framing wire.Framing) *requestBody {
	b := &requestBody{
		s:        s,
		c:        s.c,
		framing:  framing,
		released: make(chan struct{}),
	}
	cfg := s.c.cfg
	switch framing.Mode {
	case wire.FixedLength:
		b.fixed = wire.NewFixedReader(s.c.br, framing.Length)
		b.src = b.fixed
	case wire.Chunked:
		b.chunked = wire.NewChunkedReader(s.c.br, cfg.Limits, cfg.MaxBodyBytes, cfg.KeepTrailers)
		b.src = b.chunked
	default:
		b.eof = true
		b.release()
	}
	b.expectContinue = b.src != nil && s.head.ExpectsContinue()
	return b
}

func (b *requestBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.detached:
		return 0, exchange.ErrBodyClosed
	case b.eof:
		return 0, io.EOF
	case b.err != nil:
		return 0, b.err
	case len(p) == 0:
		return 0, nil
	}

	if b.expectContinue && !b.continueSent {
		if err := b.s.w.sendContinue(); err != nil {
			b.err = err
			return 0, err
		}
		b.continueSent = true
	}

	b.c.setState(StateReadingBody)
	b.c.setReadDeadline(b.c.cfg.BodyTimeout)
	n, err := b.src.Read(p)
	switch {
	case err == io.EOF:
		b.finish()
	case err != nil:
		b.fail(err)
	case b.fixed != nil && b.fixed.Remaining() == 0:
		b.finish()
	}
	return n, err
}

// Next returns the next piece of the body. The slice is reused by the
// following call.
func (b *requestBody) Next() ([]byte, error) {
	if b.buf == nil {
		b.buf = make([]byte, b.c.cfg.BodyChunkSize)
	}
	for {
		n, err := b.Read(b.buf)
		if n > 0 {
			return b.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (b *requestBody) Size() int64 {
	switch b.framing.Mode {
	case wire.FixedLength:
		return b.framing.Length
	case wire.Chunked:
		return -1
	default:
		return 0
	}
}

func (b *requestBody) Trailers() wire.Headers {
	if b.chunked == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.eof {
		return nil
	}
	return b.chunked.Trailers()
}

func (b *requestBody) finish() {
	b.eof = true
	b.release()
}

func (b *requestBody) fail(err error) {
	b.err = err
	if isTimeout(err) {
		b.c.srv.metrics.Timeouts.WithLabelValues("body").Inc()
	}
	b.c.countError(err)
	b.c.markClosing(b.s.seq)
	b.release()
}

func (b *requestBody) release() {
	b.releaseOnce.Do(func() {
		close(b.released)
	})
}

// detach ends the handler's access to the body.
func (b *requestBody) detach() {
	b.mu.Lock()
	b.detached = true
	b.mu.Unlock()
	b.release()
}

// awaitingContinue reports whether the client is holding back the body
// until it sees 100 Continue.
func (b *requestBody) awaitingContinue() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expectContinue && !b.continueSent && !b.eof
}

// drain discards what the handler left unread, up to limit bytes, so the
// next request on the connection can be parsed.
func (b *requestBody) drain(limit int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.eof:
		return nil
	case b.err != nil:
		return b.err
	case b.expectContinue && !b.continueSent:
		return errBodyNotSent
	case b.fixed != nil && b.fixed.Remaining() > limit:
		return errDrainLimit
	}

	b.c.setState(StateReadingBody)
	b.c.setReadDeadline(b.c.cfg.BodyTimeout)
	n, err := io.Copy(io.Discard, io.LimitReader(b.src, limit+1))
	if err != nil {
		if isTimeout(err) {
			b.c.srv.metrics.Timeouts.WithLabelValues("body").Inc()
		}
		b.err = err
		return err
	}
	if n > limit {
		return errDrainLimit
	}
	b.eof = true
	return nil
}
