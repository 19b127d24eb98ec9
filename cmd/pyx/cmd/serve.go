package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/pyxhttp/pyx/internal/adapter/inbound/admin"
	"github.com/pyxhttp/pyx/internal/adapter/inbound/http1"
	"github.com/pyxhttp/pyx/internal/adapter/outbound/memory"
	"github.com/pyxhttp/pyx/internal/adapter/outbound/telemetry"
	"github.com/pyxhttp/pyx/internal/config"
	"github.com/pyxhttp/pyx/internal/domain/ratelimit"
	"github.com/pyxhttp/pyx/internal/domain/wire"
	"github.com/pyxhttp/pyx/internal/port/inbound"
	"github.com/pyxhttp/pyx/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory over HTTP/1.1",
	Long: `Serve the files below a directory over HTTP/1.1.

Flags override the config file and environment.

Examples:
  # Serve the current directory on :8000
  pyx serve

  # Serve ./public on 127.0.0.1:8080 with the admin listener on :9000
  pyx serve --root ./public --bind 127.0.0.1 --port 8080 --admin 127.0.0.1:9000

  # Start with a specific config file
  pyx --config /path/to/pyx.yaml serve`,
	RunE: runServe,
}

var (
	serveRoot     string
	serveBind     string
	servePort     int
	serveLogLevel string
	serveAdmin    string
	devMode       bool
)

func init() {
	serveCmd.Flags().StringVarP(&serveRoot, "root", "r", "", "directory to serve (default: static.root)")
	serveCmd.Flags().StringVarP(&serveBind, "bind", "b", "", "address to bind (default: all interfaces)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (default: 8000)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveAdmin, "admin", "", "admin listener address, e.g. 127.0.0.1:9000")
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, short timeouts)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load without validation, so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "pyx stop" can find us.
	pidPath := pidFilePath(cfg.Server.PIDFile)
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("pyx stopped")
	return nil
}

// applyServeFlags copies explicitly set flags over the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Static.Root = serveRoot
	}
	if flags.Changed("bind") || flags.Changed("port") {
		host, port, err := net.SplitHostPort(cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("server.addr %q: %w", cfg.Server.Addr, err)
		}
		if flags.Changed("bind") {
			host = serveBind
		}
		if flags.Changed("port") {
			port = strconv.Itoa(servePort)
		}
		cfg.Server.Addr = net.JoinHostPort(host, port)
	}
	if flags.Changed("log-level") {
		cfg.Server.LogLevel = serveLogLevel
	}
	if flags.Changed("admin") {
		cfg.Admin.Addr = serveAdmin
	}
	if devMode {
		cfg.DevMode = true
	}
	return nil
}

// newLogger writes text logs to stderr. DevMode always forces debug.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// run wires the components and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	connCfg, err := connConfig(cfg.Connection)
	if err != nil {
		return err
	}
	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("server.shutdown_timeout: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http1.NewMetrics(reg)

	tp, err := telemetry.NewTracerProvider(telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		Output:         traceOutput(cfg.Tracing.Output),
		SampleRatio:    cfg.Tracing.SampleRatio,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("failed to create tracer provider: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Error("failed to shut down tracer provider", "error", err)
		}
	}()

	handler, err := service.NewStaticHandler(service.StaticConfig{
		Root:        cfg.Static.Root,
		IndexFiles:  cfg.Static.IndexFiles,
		ChunkSize:   cfg.Static.ChunkSize,
		DefaultType: cfg.Static.DefaultType,
	}, logger)
	if err != nil {
		return err
	}
	defer handler.Close()

	opts := []http1.Option{
		http1.WithAddr(cfg.Server.Addr),
		http1.WithLogger(logger),
		http1.WithConnConfig(connCfg),
		http1.WithMetrics(metrics),
		http1.WithTracer(tp.Tracer("github.com/pyxhttp/pyx")),
		http1.WithServerHeader(serverHeader(cfg.Server.ServerHeader)),
		http1.WithMaxConnections(cfg.Server.MaxConnections),
		http1.WithReusePort(cfg.Server.ReusePort),
		http1.WithShutdownTimeout(shutdownTimeout),
	}

	if limiter := createRateLimiter(cfg.Server); limiter != nil {
		limiter.StartCleanup(ctx)
		defer limiter.Stop()
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "pyx",
				Name:      "rate_limit_keys",
				Help:      "Client addresses tracked by the connection rate limiter",
			},
			func() float64 { return float64(limiter.Size()) },
		))
		opts = append(opts, http1.WithRateLimiter(limiter))
	}

	var accessLog *service.AccessLogService
	var accessStore *memory.AccessStore
	if cfg.AccessLog.Output != "off" {
		accessStore, err = createAccessStore(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create access log store: %w", err)
		}
		defer func() { _ = accessStore.Close() }()

		accessLog, err = createAccessLogService(cfg, accessStore, logger)
		if err != nil {
			return err
		}
		admin.RegisterAccessLogMetrics(reg, accessLog)
		opts = append(opts, http1.WithAccessLog(accessLog))
	}

	// The access log outlives the listeners so records of exchanges finished
	// during shutdown are still written.
	logCtx, cancelLog := context.WithCancel(context.Background())
	if accessLog != nil {
		accessLog.Start(logCtx)
	}

	srv := http1.NewServer(handler, opts...)
	transports := []inbound.Transport{srv}

	if cfg.Admin.Addr != "" {
		health := admin.NewHealthChecker(srv, cfg.Server.MaxConnections, accessLog, cfg.Static.Root, Version)
		adminOpts := []admin.Option{
			admin.WithAddr(cfg.Admin.Addr),
			admin.WithLogger(logger),
			admin.WithRegistry(reg),
			admin.WithHealthChecker(health),
		}
		if accessStore != nil {
			adminOpts = append(adminOpts, admin.WithAccessQuery(accessStore))
		}
		transports = append(transports, admin.NewServer(adminOpts...))
	}

	logger.Info("pyx starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"addr", cfg.Server.Addr,
		"root", handler.Dir(),
		"admin_addr", cfg.Admin.Addr,
		"access_log", cfg.AccessLog.Output,
		"tracing", cfg.Tracing.Enabled,
	)
	printBanner(Version, cfg)

	err = serveAll(ctx, transports...)

	cancelLog()
	if accessLog != nil && err == nil {
		// Every connection has ended; nothing records any more.
		accessLog.Stop()
	}
	return err
}

// createRateLimiter returns the per-client connection limiter, or nil when
// server.conn_rate is 0.
func createRateLimiter(cfg config.ServerConfig) *memory.RateLimiter {
	rl := ratelimit.Config{Rate: cfg.ConnRate, Burst: cfg.ConnBurst, Period: time.Minute}
	if !rl.Enabled() {
		return nil
	}
	return memory.NewRateLimiter(rl, time.Minute, 5*time.Minute)
}

// serveAll starts every transport and returns once all have stopped. The
// first failure stops the others.
func serveAll(ctx context.Context, transports ...inbound.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(transports))
	for _, t := range transports {
		go func() {
			err := t.Start(ctx)
			if err != nil {
				cancel()
			}
			errCh <- err
		}()
	}

	var errs []error
	for range transports {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// connConfig converts the connection section into engine limits.
func connConfig(c config.ConnectionConfig) (http1.ConnConfig, error) {
	cc := http1.DefaultConnConfig()
	cc.Limits = wire.Limits{
		MaxHeaderBytes: c.MaxHeaderBytes,
		MaxHeaderCount: c.MaxHeaderCount,
	}
	cc.MaxBodyBytes = c.MaxBodyBytes
	cc.MaxPipelined = c.MaxPipelined
	cc.MaxRequests = c.MaxRequests
	cc.DrainLimit = c.DrainLimit
	cc.KeepTrailers = c.KeepTrailers

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"connection.idle_timeout", c.IdleTimeout, &cc.IdleTimeout},
		{"connection.header_timeout", c.HeaderTimeout, &cc.HeaderTimeout},
		{"connection.body_timeout", c.BodyTimeout, &cc.BodyTimeout},
		{"connection.write_timeout", c.WriteTimeout, &cc.WriteTimeout},
		{"connection.linger", c.Linger, &cc.Linger},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.val)
		if err != nil {
			return cc, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return cc, nil
}

// createAccessStore creates an access store based on configuration.
func createAccessStore(cfg *config.Config, logger *slog.Logger) (*memory.AccessStore, error) {
	switch {
	case cfg.AccessLog.Output == "stdout":
		logger.Debug("access log output: stdout", "buffer_size", cfg.AccessLog.BufferSize)
		return memory.NewAccessStore(cfg.AccessLog.BufferSize), nil

	case strings.HasPrefix(cfg.AccessLog.Output, "file://"):
		path := config.FilePath(cfg.AccessLog.Output)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open access log file %s: %w", path, err)
		}
		logger.Debug("access log output: file", "path", path, "buffer_size", cfg.AccessLog.BufferSize)
		return memory.NewAccessStoreWithWriter(f, cfg.AccessLog.BufferSize), nil

	default:
		return nil, fmt.Errorf("invalid access log output: %s (must be 'stdout', 'off' or 'file://path')", cfg.AccessLog.Output)
	}
}

func createAccessLogService(cfg *config.Config, store *memory.AccessStore, logger *slog.Logger) (*service.AccessLogService, error) {
	flushInterval, err := time.ParseDuration(cfg.AccessLog.FlushInterval)
	if err != nil {
		return nil, fmt.Errorf("access_log.flush_interval: %w", err)
	}
	sendTimeout, err := time.ParseDuration(cfg.AccessLog.SendTimeout)
	if err != nil {
		return nil, fmt.Errorf("access_log.send_timeout: %w", err)
	}

	return service.NewAccessLogService(store, logger,
		service.WithChannelSize(cfg.AccessLog.ChannelSize),
		service.WithBatchSize(cfg.AccessLog.BatchSize),
		service.WithFlushInterval(flushInterval),
		service.WithSendTimeout(sendTimeout),
		service.WithWarningThreshold(cfg.AccessLog.WarningThreshold),
	), nil
}

// traceOutput maps a file:// URL to its path and leaves named outputs alone.
func traceOutput(output string) string {
	if path := config.FilePath(output); path != "" {
		return path
	}
	return output
}

// serverHeader expands the configured Server field. "pyx" gains the
// version; "-" omits the field.
func serverHeader(v string) string {
	switch v {
	case "-":
		return ""
	case "pyx":
		return "pyx/" + Version
	default:
		return v
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a startup banner to stderr.
func printBanner(version string, cfg *config.Config) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset
	}
	adminStr := dim + "disabled" + reset
	if cfg.Admin.Addr != "" {
		adminStr = displayURL(cfg.Admin.Addr) + "/health"
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s pyx %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Serving:", cfg.Static.Root)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Listening:", displayURL(cfg.Server.Addr))
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Admin:", adminStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// displayURL turns a listen address into a URL a browser can open.
func displayURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
