package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pyxhttp/pyx/internal/domain/access"
	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/port/inbound"
)

const (
	defaultRecent = 50
	maxRecent     = 1000
)

// Server is the admin listener.
type Server struct {
	addr    string
	logger  *slog.Logger
	reg     *prometheus.Registry
	health  *HealthChecker
	records access.QueryStore
	metrics *Metrics

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

var _ inbound.Transport = (*Server)(nil)

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:9000" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLogger sets the logger for the admin listener.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry sets the registry served on /metrics. The admin metrics are
// registered with it too.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.reg = reg
	}
}

// WithHealthChecker sets the checker behind /health.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.health = hc
	}
}

// WithAccessQuery sets the store behind /access/recent.
func WithAccessQuery(q access.QueryStore) Option {
	return func(s *Server) {
		s.records = q
	}
}

// NewServer creates an admin listener.
func NewServer(opts ...Option) *Server {
	s := &Server{
		addr:   "127.0.0.1:9000",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.reg == nil {
		s.reg = prometheus.NewRegistry()
		s.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if s.health == nil {
		s.health = NewHealthChecker(nil, 0, nil, "", "")
	}
	s.metrics = NewMetrics(s.reg)
	return s
}

// Handler returns the admin routes wrapped in their middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", s.health.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{
		Registry: s.reg,
	}))
	mux.Handle("/access/recent", http.HandlerFunc(s.handleRecent))

	var handler http.Handler = mux
	handler = readOnly(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)
	return handler
}

// Start serves the admin routes until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.ln = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting admin server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down admin server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close shuts the admin listener down.
func (s *Server) Close() error {
	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("error during admin server shutdown", "error", err)
		return err
	}
	s.logger.Info("admin server shutdown complete")
	return nil
}

// recentResponse is the JSON body of /access/recent.
type recentResponse struct {
	Count   int             `json:"count"`
	Records []access.Record `json:"records"`
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		http.Error(w, "access log disabled", http.StatusNotFound)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records := s.records.Query(filter)
	if records == nil {
		records = []access.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(recentResponse{Count: len(records), Records: records}); err != nil {
		exchange.LoggerFromContext(r.Context()).Debug("encode access records", "error", err)
	}
}

func parseFilter(r *http.Request) (access.Filter, error) {
	q := r.URL.Query()
	f := access.Filter{
		Method: q.Get("method"),
		Limit:  defaultRecent,
	}

	if v := q.Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid n %q: want a positive integer", v)
		}
		f.Limit = min(n, maxRecent)
	}
	if v := q.Get("min_status"); v != "" {
		st, err := strconv.Atoi(v)
		if err != nil || st < 100 || st > 599 {
			return f, fmt.Errorf("invalid min_status %q", v)
		}
		f.MinStatus = st
	}
	return f, nil
}
