package http1

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/pyxhttp/pyx/internal/domain/access"
	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

// stream is one request/response exchange on a connection. Streams write
// in sequence: a stream may commit its response only after the previous
// stream's done channel is closed.
type stream struct {
	c         *conn
	seq       int64
	id        string
	head      *wire.RequestHead
	req       *exchange.Request
	body      *requestBody
	w         *responseWriter
	pipelined bool
	started   time.Time
	logger    *slog.Logger
	span      trace.Span

	turn <-chan struct{}
	done chan struct{}
}

func newStream(c *conn, seq int64, head *wire.RequestHead, framing wire.Framing, turn <-chan struct{}, pipelined bool) *stream {
	id := requestID(head.Header)
	s := &stream{
		c:         c,
		seq:       seq,
		id:        id,
		head:      head,
		pipelined: pipelined,
		started:   time.Now(),
		logger:    c.logger.With("request_id", id),
		turn:      turn,
		done:      make(chan struct{}),
	}

	ctx, span := c.startSpan(head, id, seq)
	s.span = span
	ctx = exchange.ContextWithLogger(ctx, s.logger)

	s.body = newRequestBody(s, framing)
	s.w = &responseWriter{s: s, c: c}
	s.req = exchange.NewRequest(ctx, head, s.body, c.remote, id)
	return s
}

func (s *stream) run() {
	defer func() {
		// Keep done ordered even when this stream finishes early.
		<-s.turn
		s.c.releaseSlot()
		if s.c.waiting.Load() {
			s.c.setState(StateAwaitingRequest)
		}
		close(s.done)
	}()

	err := s.callHandler()
	s.body.detach()

	if err != nil {
		if _, fatal, _ := statusForError(err); fatal || s.w.committed {
			s.c.markClosing(s.seq)
		}
	} else if s.w.incomplete() {
		s.c.markClosing(s.seq)
	}

	err = s.finish(err)
	s.record(err)
}

func (s *stream) callHandler() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("handler panic",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return s.c.srv.handler.Serve(s.w, s.req)
}

// finish completes the response after the handler returned herr. It
// returns the error that describes the exchange for logs and records.
func (s *stream) finish(herr error) error {
	w := s.w
	if herr == nil && !w.committed {
		if !w.header.Has("Content-Length") && !w.header.Has("Transfer-Encoding") {
			w.header.Set("Content-Length", "0")
		}
		herr = w.WriteHeader(200)
	}

	if herr != nil {
		if w.committed {
			s.logger.Error("handler failed after response was committed", "error", herr)
			s.c.markBroken()
			return herr
		}
		if errors.Is(herr, exchange.ErrConnClosing) {
			return herr
		}

		status, _, extra := statusForError(herr)
		s.c.countError(herr)
		if status >= 500 {
			s.logger.Error("request failed", "status", status, "error", herr)
		} else {
			s.logger.Debug("request rejected", "status", status, "error", herr)
		}

		w.reset()
		if err := exchange.WriteError(w, s.req, status, extra); err != nil {
			s.logger.Debug("error response not written", "error", err)
			if w.committed {
				s.c.markBroken()
			}
			return herr
		}
	}

	if err := w.complete(); err != nil {
		s.logger.Warn("response incomplete, closing connection", "error", err)
		s.c.countError(err)
		s.c.markBroken()
		if herr == nil {
			herr = err
		}
	}
	return herr
}

// waitTurn blocks until every earlier response has been written.
func (s *stream) waitTurn() error {
	select {
	case <-s.turn:
		return nil
	default:
	}
	select {
	case <-s.turn:
		return nil
	case <-s.c.ctx.Done():
		return exchange.ErrConnClosing
	}
}

func (s *stream) record(err error) {
	elapsed := time.Since(s.started)
	status := s.w.status
	keepAlive := !s.c.closesAfter(s.seq)

	if status != 0 {
		s.c.srv.metrics.observeRequest(s.head.Method, status, elapsed.Seconds(), s.w.written)
	}
	endSpan(s.span, status, s.w.written, err)

	s.logger.Debug("request completed",
		"method", s.head.Method,
		"target", s.head.Target,
		"status", status,
		"bytes", s.w.written,
		"duration", elapsed,
	)

	if s.c.srv.accessLog == nil {
		return
	}
	rec := access.Record{
		Timestamp: s.started,
		ConnID:    s.c.id,
		RequestID: s.id,
		Remote:    s.c.remote,
		Method:    s.head.Method,
		Target:    s.head.Target,
		Proto:     s.head.Version.String(),
		Status:    status,
		BytesSent: s.w.written,
		Duration:  elapsed,
		UserAgent: s.head.Header.Get("User-Agent"),
		Referer:   s.head.Header.Get("Referer"),
		KeepAlive: keepAlive,
		Pipelined: s.pipelined,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.c.srv.accessLog.Record(rec)
}

// requestID returns the client's X-Request-ID when it is usable, or a new
// random id.
func requestID(h wire.Headers) string {
	if v := h.Get("X-Request-ID"); validRequestID(v) {
		return v
	}
	return uuid.NewString()
}

func validRequestID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
