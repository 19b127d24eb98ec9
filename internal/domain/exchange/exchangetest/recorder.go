// Package exchangetest provides helpers for testing exchange.Handler
// implementations without a connection.
package exchangetest

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

// Recorder is an exchange.ResponseWriter that keeps everything in memory.
type Recorder struct {
	Status  int
	Headers wire.Headers
	Body    bytes.Buffer
	Flushed bool
	// Writes counts Write calls that carried data.
	Writes int

	committed bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

var _ exchange.ResponseWriter = (*Recorder)(nil)

func (r *Recorder) Header() *wire.Headers {
	if r.committed {
		c := r.Headers.Clone()
		return &c
	}
	return &r.Headers
}

func (r *Recorder) WriteHeader(status int) error {
	if r.committed {
		return exchange.ErrHeadersSent
	}
	if status < 200 || status > 599 {
		return exchange.ErrInvalidStatus
	}
	r.Status = status
	r.committed = true
	return nil
}

func (r *Recorder) Write(p []byte) (int, error) {
	if !r.committed {
		return 0, exchange.ErrHeadersNotSent
	}
	if len(p) > 0 {
		r.Writes++
	}
	return r.Body.Write(p)
}

func (r *Recorder) Flush() error {
	r.Flushed = true
	return nil
}

func (r *Recorder) Committed() bool {
	return r.committed
}

// NewRequest builds a request with an in-memory body. Header pairs are
// given as "Name: value" strings.
func NewRequest(method, target string, body string, headers ...string) *exchange.Request {
	head := &wire.RequestHead{Method: method, Target: target, Version: wire.HTTP11}
	head.Path, head.RawQuery, _ = strings.Cut(target, "?")
	for _, h := range headers {
		name, value, _ := strings.Cut(h, ":")
		head.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return exchange.NewRequest(context.Background(), head, NewBody(body), "192.0.2.1:1234", "test-request")
}

// Body is an in-memory exchange.Body.
type Body struct {
	r    *strings.Reader
	size int64
	buf  []byte
}

// NewBody returns a Body over s.
func NewBody(s string) *Body {
	return &Body{r: strings.NewReader(s), size: int64(len(s)), buf: make([]byte, 512)}
}

func (b *Body) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (b *Body) Next() ([]byte, error) {
	n, err := b.r.Read(b.buf)
	if n > 0 {
		return b.buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

func (b *Body) Size() int64 {
	return b.size
}

func (b *Body) Trailers() wire.Headers {
	return nil
}
