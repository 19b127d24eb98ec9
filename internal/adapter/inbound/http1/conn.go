package http1

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

// maxLeadingEmpty bounds the empty-line bytes skipped while waiting for a
// request line. Anything past it is left to the head parser.
const maxLeadingEmpty = 64

// lingerLimit bounds what a closing connection reads and discards.
const lingerLimit = 256 << 10

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// conn is one client connection. The reader loop in serve owns br and the
// parse state; streams take turns owning bw and headBuf in request order.
type conn struct {
	srv    *Server
	cfg    *ConnConfig
	nc     net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	id     string
	remote string
	logger *slog.Logger

	// ctx is cancelled when the connection breaks or is force-closed.
	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	waiting  atomic.Bool // reader is blocked waiting for the next request
	closing  atomic.Bool // no further requests are read
	broken   atomic.Bool // nothing more may be written
	readDone atomic.Bool
	// stopAfter is the last request sequence allowed to respond.
	stopAfter atomic.Int64
	lastSeq   atomic.Int64
	// slots holds one token per request read but not yet answered.
	slots chan struct{}

	headBuf []byte
}

func newConn(s *Server, nc net.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	remote := nc.RemoteAddr().String()

	bufSize := 64 << 10
	if s.cfg.Limits.MaxHeaderBytes > 0 {
		bufSize = max(s.cfg.Limits.MaxHeaderBytes+512, 4096)
	}

	c := &conn{
		srv:    s,
		cfg:    &s.cfg,
		nc:     nc,
		br:     bufio.NewReaderSize(nc, bufSize),
		bw:     bufio.NewWriterSize(nc, 16<<10),
		id:     id,
		remote: remote,
		logger: s.logger.With("conn_id", id, "remote", remote),
		ctx:    ctx,
		cancel: cancel,
		slots:  make(chan struct{}, s.cfg.MaxPipelined),
	}
	c.stopAfter.Store(math.MaxInt64)
	return c
}

// serve is the reader loop. It parses one request head at a time, hands
// each request to its own stream goroutine and resumes reading once that
// stream no longer needs the input side.
func (c *conn) serve() {
	defer c.close()
	c.logger.Debug("connection opened")

	prev := closedChan
	var seq int64
	for !c.closing.Load() {
		if !c.acquireSlot() {
			break
		}

		head, err := c.readRequest()
		if err != nil {
			c.releaseSlot()
			c.failRead(err, prev)
			break
		}

		framing, err := wire.RequestBodyMode(head, c.cfg.MaxBodyBytes)
		if err == nil {
			err = checkExpect(head)
		}
		if err != nil {
			c.releaseSlot()
			c.failRead(err, prev)
			break
		}

		seq++
		c.lastSeq.Store(seq)
		pipelined := len(c.slots) > 1
		if pipelined {
			c.srv.metrics.PipelinedTotal.Inc()
		}
		if !head.KeepAlive() || c.closing.Load() ||
			(c.cfg.MaxRequests > 0 && seq >= int64(c.cfg.MaxRequests)) {
			c.markClosing(seq)
		}

		s := newStream(c, seq, head, framing, prev, pipelined)
		prev = s.done
		c.setState(StateDispatched)
		go s.run()

		// The next head starts after this body.
		<-s.body.released

		if err := s.body.drain(c.cfg.DrainLimit); err != nil {
			c.logger.Debug("request body not drained, closing", "request_id", s.id, "error", err)
			c.markClosing(seq)
		}
	}
	c.readDone.Store(true)
	<-prev
}

// readRequest waits for the next request and parses its head.
func (c *conn) readRequest() (*wire.RequestHead, error) {
	if err := c.awaitRequest(); err != nil {
		return nil, quietError{err}
	}

	c.setState(StateReadingHeaders)
	c.setReadDeadline(c.cfg.HeaderTimeout)
	for {
		buf, _ := c.br.Peek(c.br.Buffered())
		head, n, err := wire.ParseHead(buf, c.cfg.Limits)
		if err == nil {
			c.br.Discard(n)
			return head, nil
		}
		if !errors.Is(err, wire.ErrNeedMore) {
			return nil, err
		}

		if _, err := c.br.Peek(c.br.Buffered() + 1); err != nil {
			switch {
			case errors.Is(err, bufio.ErrBufferFull):
				return nil, wire.ErrHeaderTooLarge
			case isTimeout(err) && !c.closing.Load():
				c.srv.metrics.Timeouts.WithLabelValues("header").Inc()
				return nil, errHeaderTimeout
			default:
				return nil, quietError{err}
			}
		}
	}
}

// awaitRequest blocks until at least one byte of the next request is
// buffered. The idle timeout only ends the connection when no earlier
// response is still outstanding.
func (c *conn) awaitRequest() error {
	c.setState(StateAwaitingRequest)
	skipped := 0
	for {
		skipped += c.skipEmptyLines(maxLeadingEmpty - skipped)
		n := c.br.Buffered()
		if n > 0 && (skipped >= maxLeadingEmpty || !c.loneCR()) {
			return nil
		}

		c.waiting.Store(true)
		c.setReadDeadline(c.cfg.IdleTimeout)
		if c.closing.Load() {
			c.waiting.Store(false)
			return errShuttingDown
		}
		_, err := c.br.Peek(n + 1)
		c.waiting.Store(false)

		switch {
		case err == nil:
			continue
		case !isTimeout(err):
			return err
		case c.closing.Load():
			return errShuttingDown
		case len(c.slots) > 1:
			continue
		default:
			c.srv.metrics.Timeouts.WithLabelValues("idle").Inc()
			return errIdleTimeout
		}
	}
}

// skipEmptyLines discards up to limit bytes of buffered LF and CRLF line
// ends that precede a request line.
func (c *conn) skipEmptyLines(limit int) int {
	buf, _ := c.br.Peek(c.br.Buffered())
	i := 0
	for i < len(buf) && i < limit {
		if buf[i] == '\n' {
			i++
			continue
		}
		if buf[i] == '\r' && i+1 < len(buf) && buf[i+1] == '\n' && i+2 <= limit {
			i += 2
			continue
		}
		break
	}
	c.br.Discard(i)
	return i
}

// loneCR reports whether the only buffered byte is a CR whose LF has not
// arrived yet.
func (c *conn) loneCR() bool {
	if c.br.Buffered() != 1 {
		return false
	}
	b, _ := c.br.Peek(1)
	return b[0] == '\r'
}

// failRead answers a request that could not be dispatched, after every
// earlier response, and stops the reader.
func (c *conn) failRead(err error, prev <-chan struct{}) {
	c.closing.Store(true)

	var q quietError
	if errors.As(err, &q) {
		c.logger.Debug("connection ending", "reason", q.err)
		return
	}

	status, _, extra := statusForError(err)
	c.countError(err)
	c.logger.Info("rejecting request", "status", status, "error", err)

	<-prev
	if c.broken.Load() {
		return
	}
	c.setState(StateWritingResponse)
	if err := c.writeSimple(status, extra); err != nil {
		c.logger.Debug("error response not written", "error", err)
	}
}

// writeSimple writes a complete error response that closes the connection.
func (c *conn) writeSimple(status int, extra wire.Headers) error {
	page := exchange.ErrorPage(status)
	h := wire.Headers{
		{Name: "Content-Type", Value: "text/html; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(len(page))},
	}
	for _, f := range extra {
		h.Set(f.Name, f.Value)
	}
	h = c.decorate(h, true, wire.HTTP11)

	buf := wire.AppendResponseHead(c.headBuf[:0], &wire.ResponseHead{Status: status, Header: h})
	buf = append(buf, page...)
	c.headBuf = buf[:0]
	if _, err := c.write(buf); err != nil {
		return err
	}
	return c.flush()
}

// decorate adds the connection-level fields to a response head.
func (c *conn) decorate(h wire.Headers, closing bool, v wire.Version) wire.Headers {
	switch {
	case closing:
		h.Set("Connection", "close")
	case !v.AtLeast(1, 1):
		h.Set("Connection", "keep-alive")
	}
	if !h.Has("Date") {
		h.Add("Date", time.Now().UTC().Format(wire.TimeFormat))
	}
	if c.srv.serverHeader != "" && !h.Has("Server") {
		h.Add("Server", c.srv.serverHeader)
	}
	return h
}

func (c *conn) write(p []byte) (int, error) {
	c.setWriteDeadline()
	n, err := c.bw.Write(p)
	if err != nil && isTimeout(err) {
		c.srv.metrics.Timeouts.WithLabelValues("write").Inc()
	}
	return n, err
}

func (c *conn) flush() error {
	if c.bw.Buffered() == 0 {
		return nil
	}
	c.setWriteDeadline()
	err := c.bw.Flush()
	if err != nil && isTimeout(err) {
		c.srv.metrics.Timeouts.WithLabelValues("write").Inc()
	}
	return err
}

func (c *conn) setReadDeadline(d time.Duration) {
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	c.nc.SetReadDeadline(t)
}

func (c *conn) setWriteDeadline() {
	var t time.Time
	if c.cfg.WriteTimeout > 0 {
		t = time.Now().Add(c.cfg.WriteTimeout)
	}
	c.nc.SetWriteDeadline(t)
}

func (c *conn) setState(st State) {
	prev := State(c.state.Swap(int32(st)))
	if prev != st && c.srv.stateHook != nil {
		c.srv.stateHook(c.id, prev, st)
	}
}

func (c *conn) acquireSlot() bool {
	select {
	case c.slots <- struct{}{}:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *conn) releaseSlot() {
	<-c.slots
}

// markClosing ends the connection after the response to request seq.
func (c *conn) markClosing(seq int64) {
	c.closing.Store(true)
	for {
		cur := c.stopAfter.Load()
		if seq >= cur || c.stopAfter.CompareAndSwap(cur, seq) {
			break
		}
	}
	c.wakeReader()
}

// wakeReader interrupts a reader idling between requests so it notices
// the closing flag.
func (c *conn) wakeReader() {
	if c.waiting.Load() {
		c.nc.SetReadDeadline(time.Now())
	}
}

// markBroken stops all further output. The byte stream is no longer a
// sequence of well-framed responses.
func (c *conn) markBroken() {
	c.broken.Store(true)
	c.closing.Store(true)
	c.cancel()
	c.nc.SetReadDeadline(time.Now())
}

// mayWrite reports whether request seq may still send a response.
func (c *conn) mayWrite(seq int64) bool {
	return !c.broken.Load() && seq <= c.stopAfter.Load()
}

// closesAfter reports whether the response to seq is the last one.
func (c *conn) closesAfter(seq int64) bool {
	if seq >= c.stopAfter.Load() {
		return true
	}
	return c.readDone.Load() && seq == c.lastSeq.Load()
}

// beginShutdown stops reading new requests. A reader idling between
// requests is woken so it can exit.
func (c *conn) beginShutdown() {
	c.closing.Store(true)
	c.wakeReader()
}

func (c *conn) forceClose() {
	c.broken.Store(true)
	c.closing.Store(true)
	c.cancel()
	c.nc.Close()
}

// close flushes what is buffered, shuts the write half and reads for the
// linger period before closing, so a peer that is still sending does not
// turn the last response into a reset.
func (c *conn) close() {
	c.setState(StateClosing)
	if err := c.flush(); err != nil {
		c.logger.Debug("final flush failed", "error", err)
	}

	if cw, ok := c.nc.(interface{ CloseWrite() error }); ok && c.cfg.Linger > 0 && !c.broken.Load() {
		if err := cw.CloseWrite(); err == nil {
			c.nc.SetReadDeadline(time.Now().Add(c.cfg.Linger))
			io.Copy(io.Discard, io.LimitReader(c.nc, lingerLimit))
		}
	}

	c.nc.Close()
	c.cancel()
	c.logger.Debug("connection closed")
}

func (c *conn) countError(err error) {
	kind := wire.KindOf(err)
	if kind == 0 {
		return
	}
	c.srv.metrics.ProtocolErrors.WithLabelValues(kind.String()).Inc()
}

// checkExpect rejects expectations other than 100-continue.
func checkExpect(h *wire.RequestHead) error {
	if !h.Version.AtLeast(1, 1) || !h.Header.Has("Expect") || h.ExpectsContinue() {
		return nil
	}
	return errExpectationFailed
}
