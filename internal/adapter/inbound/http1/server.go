package http1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pyxhttp/pyx/internal/domain/access"
	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/ratelimit"
	"github.com/pyxhttp/pyx/internal/domain/wire"
	"github.com/pyxhttp/pyx/internal/port/inbound"
)

// rejectWriteTimeout bounds the write of a refusal at accept.
const rejectWriteTimeout = time.Second

// ConnConfig holds the per-connection limits and deadlines.
type ConnConfig struct {
	Limits wire.Limits
	// MaxBodyBytes caps request bodies. Zero disables the cap.
	MaxBodyBytes int64
	// MaxPipelined bounds requests read ahead of their responses.
	MaxPipelined int
	// MaxRequests closes the connection after that many requests. Zero is unlimited.
	MaxRequests int

	IdleTimeout   time.Duration
	HeaderTimeout time.Duration
	BodyTimeout   time.Duration
	WriteTimeout  time.Duration
	// Linger is how long a closing connection keeps reading after its
	// write half is shut, so the peer sees the final response before a reset.
	Linger time.Duration
	// DrainLimit is the most unread request body skipped to keep a
	// connection alive after the handler returns.
	DrainLimit int64
	// KeepTrailers exposes chunked trailer fields through Body.Trailers.
	KeepTrailers bool
	// BodyChunkSize is the buffer size behind Body.Next.
	BodyChunkSize int
}

// DefaultConnConfig returns the limits used when none are configured.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		Limits:        wire.DefaultLimits(),
		MaxBodyBytes:  0,
		MaxPipelined:  8,
		IdleTimeout:   60 * time.Second,
		HeaderTimeout: 10 * time.Second,
		BodyTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		Linger:        500 * time.Millisecond,
		DrainLimit:    256 << 10,
		BodyChunkSize: 32 << 10,
	}
}

// Server accepts connections and runs the HTTP/1.1 state machine on each.
type Server struct {
	handler         exchange.Handler
	addr            string
	cfg             ConnConfig
	logger          *slog.Logger
	metrics         *Metrics
	tracer          trace.Tracer
	accessLog       access.Recorder
	limiter         ratelimit.Limiter
	serverHeader    string
	maxConns        int
	reusePort       bool
	shutdownTimeout time.Duration

	// stateHook observes connection state transitions in tests.
	stateHook func(connID string, from, to State)

	mu           sync.Mutex
	listener     net.Listener
	conns        map[*conn]struct{}
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
	wg           sync.WaitGroup
	active       atomic.Int64
}

var _ inbound.Transport = (*Server)(nil)

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is ":8000".
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLogger sets the logger for the server and its connections.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithConnConfig replaces the connection limits and deadlines.
func WithConnConfig(cfg ConnConfig) Option {
	return func(s *Server) {
		s.cfg = cfg
	}
}

// WithMetrics sets the Prometheus metrics. Without it metrics go to a
// private registry nobody scrapes.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used for per-request spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithAccessLog sets where completed exchanges are recorded.
func WithAccessLog(r access.Recorder) Option {
	return func(s *Server) {
		s.accessLog = r
	}
}

// WithRateLimiter admits new connections per client IP. Refused
// connections get a 503 with Retry-After and are closed.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithServerHeader sets the Server field added to responses. Empty omits it.
func WithServerHeader(v string) Option {
	return func(s *Server) {
		s.serverHeader = v
	}
}

// WithMaxConnections bounds concurrently open connections. Zero is unlimited.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

// WithReusePort sets SO_REUSEPORT on the listening socket where supported.
func WithReusePort(on bool) Option {
	return func(s *Server) {
		s.reusePort = on
	}
}

// WithShutdownTimeout bounds how long Start waits for in-flight exchanges
// after its context ends.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// NewServer creates a Server dispatching requests to handler.
func NewServer(handler exchange.Handler, opts ...Option) *Server {
	s := &Server{
		handler:         handler,
		addr:            ":8000",
		cfg:             DefaultConnConfig(),
		logger:          slog.Default(),
		shutdownTimeout: 10 * time.Second,
		conns:           make(map[*conn]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	if s.cfg.MaxPipelined < 1 {
		s.cfg.MaxPipelined = 1
	}
	if s.cfg.BodyChunkSize <= 0 {
		s.cfg.BodyChunkSize = 32 << 10
	}
	return s
}

// Start binds the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := listen(ctx, s.addr, s.reusePort)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Serve takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting HTTP/1.1 server", "addr", ln.Addr().String())

	// Channel for accept loop errors
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.acceptLoop(ctx, ln)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP/1.1 server")
		err := s.shutdown()
		<-errCh
		return err
	case err := <-errCh:
		if serr := s.shutdown(); err == nil {
			err = serr
		}
		return err
	}
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Close stops accepting and shuts down open connections.
func (s *Server) Close() error {
	return s.shutdown()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var sem chan struct{}
	if s.maxConns > 0 {
		sem = make(chan struct{}, s.maxConns)
	}

	var backoff time.Duration
	for {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
		}

		nc, err := ln.Accept()
		if err != nil {
			if sem != nil {
				<-sem
			}
			if s.shuttingDown.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept failed, retrying", "error", err, "delay", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if s.limiter != nil && !s.admit(nc) {
			if sem != nil {
				<-sem
			}
			continue
		}

		c := newConn(s, nc)
		if !s.track(c) {
			nc.Close()
			if sem != nil {
				<-sem
			}
			return nil
		}

		go func() {
			defer s.wg.Done()
			defer func() {
				if sem != nil {
					<-sem
				}
			}()
			defer s.untrack(c)
			c.serve()
		}()
	}
}

// admit checks the connection against the rate limiter. A refused
// connection is answered and closed here.
func (s *Server) admit(nc net.Conn) bool {
	host, _, err := net.SplitHostPort(nc.RemoteAddr().String())
	if err != nil {
		host = nc.RemoteAddr().String()
	}
	res := s.limiter.Allow(host)
	if res.Allowed {
		return true
	}

	s.metrics.ConnectionsRejected.WithLabelValues("rate_limit").Inc()
	s.logger.Debug("connection rate limited", "remote", host, "retry_after", res.RetryAfter)

	retry := max(int64(math.Ceil(res.RetryAfter.Seconds())), 1)
	h := wire.Headers{
		{Name: "Retry-After", Value: strconv.FormatInt(retry, 10)},
		{Name: "Connection", Value: "close"},
		{Name: "Content-Length", Value: "0"},
		{Name: "Date", Value: time.Now().UTC().Format(wire.TimeFormat)},
	}
	if s.serverHeader != "" {
		h.Add("Server", s.serverHeader)
	}
	buf := wire.AppendResponseHead(nil, &wire.ResponseHead{Status: 503, Header: h})

	nc.SetWriteDeadline(time.Now().Add(rejectWriteTimeout))
	if _, err := nc.Write(buf); err != nil {
		s.logger.Debug("rate limit response not written", "remote", host, "error", err)
	}
	nc.Close()
	return false
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown.Load() {
		return false
	}
	// Added under mu so shutdown cannot start waiting before this conn counts.
	s.wg.Add(1)
	s.conns[c] = struct{}{}
	s.active.Add(1)
	s.metrics.ConnectionsActive.Inc()
	s.metrics.ConnectionsTotal.Inc()
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
	s.active.Add(-1)
	s.metrics.ConnectionsActive.Dec()
}

func (s *Server) snapshot() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// shutdown stops accepting, lets open connections finish their current
// exchanges and force-closes whatever is left after the shutdown timeout.
func (s *Server) shutdown() error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.shuttingDown.Store(true)
		ln := s.listener
		s.mu.Unlock()

		if ln != nil {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.shutdownErr = fmt.Errorf("close listener: %w", err)
			}
		}

		for _, c := range s.snapshot() {
			c.beginShutdown()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(s.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
			s.logger.Info("HTTP/1.1 server stopped")
			return
		case <-timer.C:
		}

		open := s.snapshot()
		s.logger.Warn("shutdown timeout, closing connections", "open", len(open))
		for _, c := range open {
			c.forceClose()
		}

		timer.Reset(s.shutdownTimeout)
		select {
		case <-done:
		case <-timer.C:
			s.shutdownErr = errors.Join(s.shutdownErr, errors.New("handlers still running after shutdown timeout"))
		}
	})
	return s.shutdownErr
}
