// Package config provides configuration types for pyx.
//
// Configuration is file-based (pyx.yaml) with environment overrides. It
// covers the HTTP/1.1 listener and its per-connection limits, the static
// root, the access log, the admin listener and request tracing.
//
// Durations are strings parsed with time.ParseDuration ("30s", "500ms").
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for pyx.
type Config struct {
	// Server configures the HTTP/1.1 listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Connection configures per-connection limits and deadlines.
	Connection ConnectionConfig `yaml:"connection" mapstructure:"connection"`

	// Static configures the directory served.
	Static StaticConfig `yaml:"static" mapstructure:"static"`

	// AccessLog configures where one record per exchange is written.
	AccessLog AccessLogConfig `yaml:"access_log" mapstructure:"access_log"`

	// Admin configures the optional health and metrics listener.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Tracing configures per-request spans.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables debug logging and short timeouts.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP/1.1 listener.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8000", "127.0.0.1:8080").
	// Defaults to ":8000".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ServerHeader is sent as the Server field of every response.
	// Defaults to "pyx". Set to "-" to omit the field.
	ServerHeader string `yaml:"server_header" mapstructure:"server_header"`

	// MaxConnections bounds concurrently open connections. 0 is unlimited.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections" validate:"min=0"`

	// ConnRate admits at most this many new connections per minute from
	// one client IP. 0 disables the limit.
	ConnRate int `yaml:"conn_rate" mapstructure:"conn_rate" validate:"min=0"`

	// ConnBurst is how many connections one client IP may open back to
	// back. Defaults to ConnRate when 0.
	ConnBurst int `yaml:"conn_burst" mapstructure:"conn_burst" validate:"min=0"`

	// ReusePort sets SO_REUSEPORT on the listening socket.
	ReusePort bool `yaml:"reuse_port" mapstructure:"reuse_port"`

	// ShutdownTimeout bounds the graceful shutdown (e.g., "10s").
	// Defaults to "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"required,duration"`

	// PIDFile is where "pyx serve" writes its process ID for "pyx stop".
	// Defaults to "~/.pyx/server.pid".
	PIDFile string `yaml:"pid_file" mapstructure:"pid_file"`
}

// ConnectionConfig configures per-connection limits and deadlines.
type ConnectionConfig struct {
	// MaxHeaderBytes caps the request line plus header section.
	// Defaults to 8192.
	MaxHeaderBytes int `yaml:"max_header_bytes" mapstructure:"max_header_bytes" validate:"min=0"`

	// MaxHeaderCount caps the number of header fields. Defaults to 100.
	MaxHeaderCount int `yaml:"max_header_count" mapstructure:"max_header_count" validate:"min=0"`

	// MaxBodyBytes caps request bodies. 0 disables the cap.
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"min=0"`

	// MaxPipelined bounds requests read ahead of their responses.
	// Defaults to 8.
	MaxPipelined int `yaml:"max_pipelined" mapstructure:"max_pipelined" validate:"min=1"`

	// MaxRequests closes a connection after that many requests. 0 is unlimited.
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests" validate:"min=0"`

	// IdleTimeout closes a connection with no request in progress.
	// Defaults to "60s".
	IdleTimeout string `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"required,duration"`

	// HeaderTimeout bounds reading one request head. Defaults to "10s".
	HeaderTimeout string `yaml:"header_timeout" mapstructure:"header_timeout" validate:"required,duration"`

	// BodyTimeout bounds each read of a request body. Defaults to "30s".
	BodyTimeout string `yaml:"body_timeout" mapstructure:"body_timeout" validate:"required,duration"`

	// WriteTimeout bounds each write to the client. Defaults to "30s".
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"required,duration"`

	// Linger is how long a closing connection keeps reading after the
	// final response. Defaults to "500ms".
	Linger string `yaml:"linger" mapstructure:"linger" validate:"required,duration"`

	// DrainLimit is the most unread request body skipped to keep a
	// connection alive. Defaults to 262144.
	DrainLimit int64 `yaml:"drain_limit" mapstructure:"drain_limit" validate:"min=0"`

	// KeepTrailers exposes chunked trailer fields to handlers.
	KeepTrailers bool `yaml:"keep_trailers" mapstructure:"keep_trailers"`
}

// StaticConfig configures the directory served.
type StaticConfig struct {
	// Root is the directory served. Defaults to ".".
	Root string `yaml:"root" mapstructure:"root" validate:"required"`

	// IndexFiles are tried in order for directory targets.
	// Defaults to ["index.html", "index.htm"].
	IndexFiles []string `yaml:"index_files" mapstructure:"index_files" validate:"omitempty,dive,required,excludesall=/\\"`

	// ChunkSize bounds each read from a file. Defaults to 65536.
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size" validate:"omitempty,min=512"`

	// DefaultType is the Content-Type for unknown extensions.
	// Defaults to "application/octet-stream".
	DefaultType string `yaml:"default_type" mapstructure:"default_type"`
}

// AccessLogConfig configures access log output.
type AccessLogConfig struct {
	// Output specifies where access records are written.
	// Valid values: "stdout", "off" or "file:///absolute/path/to/access.log".
	// Defaults to "stdout" if empty.
	Output string `yaml:"output" mapstructure:"output" validate:"required,access_log_output"`

	// ChannelSize is the buffer size for the record channel.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s", "500ms").
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"required,duration"`

	// SendTimeout is how long to block when the channel is full (e.g., "100ms", "0").
	// "0" drops immediately. Defaults to "0".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"required,duration"`

	// WarningThreshold is the channel depth percentage (0-100) at which
	// warnings are logged. Set to 0 to disable warnings. Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"min=0,max=100"`

	// BufferSize is the number of recent records kept for /access/recent.
	// Defaults to 1000 if not specified or 0.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// AdminConfig configures the admin listener.
type AdminConfig struct {
	// Addr enables the admin listener on that address
	// (e.g., "127.0.0.1:9000"). Empty disables it.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// TracingConfig configures per-request spans.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output is "stdout", "stderr" or "file:///absolute/path". Defaults to "stdout".
	Output string `yaml:"output" mapstructure:"output" validate:"required,trace_output"`

	// SampleRatio is the fraction of requests traced, from 0 to 1.
	// Defaults to 1.
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio" validate:"min=0,max=1"`

	// ServiceName is the service.name resource attribute. Defaults to "pyx".
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// SetDevDefaults applies debug logging and short timeouts for development
// mode. Values the user set explicitly are kept.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"
	if !viper.IsSet("connection.idle_timeout") {
		c.Connection.IdleTimeout = "5s"
	}
	if !viper.IsSet("connection.header_timeout") {
		c.Connection.HeaderTimeout = "2s"
	}
	if !viper.IsSet("server.shutdown_timeout") {
		c.Server.ShutdownTimeout = "2s"
	}
	if !viper.IsSet("access_log.flush_interval") {
		c.AccessLog.FlushInterval = "100ms"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ServerHeader == "" {
		c.Server.ServerHeader = "pyx"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Connection.MaxHeaderBytes == 0 {
		c.Connection.MaxHeaderBytes = 8 << 10
	}
	if c.Connection.MaxHeaderCount == 0 {
		c.Connection.MaxHeaderCount = 100
	}
	if c.Connection.MaxPipelined == 0 {
		c.Connection.MaxPipelined = 8
	}
	if c.Connection.IdleTimeout == "" {
		c.Connection.IdleTimeout = "60s"
	}
	if c.Connection.HeaderTimeout == "" {
		c.Connection.HeaderTimeout = "10s"
	}
	if c.Connection.BodyTimeout == "" {
		c.Connection.BodyTimeout = "30s"
	}
	if c.Connection.WriteTimeout == "" {
		c.Connection.WriteTimeout = "30s"
	}
	if c.Connection.Linger == "" {
		c.Connection.Linger = "500ms"
	}
	if !viper.IsSet("connection.drain_limit") && c.Connection.DrainLimit == 0 {
		c.Connection.DrainLimit = 256 << 10
	}

	if c.Static.Root == "" {
		c.Static.Root = "."
	}
	if len(c.Static.IndexFiles) == 0 {
		c.Static.IndexFiles = []string{"index.html", "index.htm"}
	}
	if c.Static.ChunkSize == 0 {
		c.Static.ChunkSize = 64 << 10
	}
	if c.Static.DefaultType == "" {
		c.Static.DefaultType = "application/octet-stream"
	}

	if c.AccessLog.Output == "" {
		c.AccessLog.Output = "stdout"
	}
	if c.AccessLog.ChannelSize == 0 {
		c.AccessLog.ChannelSize = 1000
	}
	if c.AccessLog.BatchSize == 0 {
		c.AccessLog.BatchSize = 100
	}
	if c.AccessLog.FlushInterval == "" {
		c.AccessLog.FlushInterval = "1s"
	}
	if c.AccessLog.SendTimeout == "" {
		c.AccessLog.SendTimeout = "0"
	}
	// viper.IsSet distinguishes "not set" from an explicit 0.
	if !viper.IsSet("access_log.warning_threshold") && c.AccessLog.WarningThreshold == 0 {
		c.AccessLog.WarningThreshold = 80
	}
	if c.AccessLog.BufferSize == 0 {
		c.AccessLog.BufferSize = 1000
	}

	if c.Tracing.Output == "" {
		c.Tracing.Output = "stdout"
	}
	if !viper.IsSet("tracing.sample_ratio") && c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "pyx"
	}
}
