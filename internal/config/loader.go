// Package config provides configuration loading for pyx.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper points viper at configFile, or at the first pyx.yaml/.yml found
// in the search path when configFile is empty, and enables PYX_ overrides.
// The search requires an explicit YAML extension so the "pyx" binary itself
// is never mistaken for a config file.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers accept.
		viper.SetConfigName("pyx")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: PYX_SERVER_ADDR
	viper.SetEnvPrefix("PYX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for pyx.yaml or pyx.yml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".pyx"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "pyx"))
		}
	} else {
		paths = append(paths, "/etc/pyx")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first pyx.yaml or pyx.yml in paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "pyx"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys are the nested keys that can be overridden from the environment.
// Example: PYX_CONNECTION_IDLE_TIMEOUT overrides connection.idle_timeout
var envKeys = []string{
	"server.addr",
	"server.log_level",
	"server.server_header",
	"server.max_connections",
	"server.conn_rate",
	"server.conn_burst",
	"server.reuse_port",
	"server.shutdown_timeout",
	"server.pid_file",

	"connection.max_header_bytes",
	"connection.max_header_count",
	"connection.max_body_bytes",
	"connection.max_pipelined",
	"connection.max_requests",
	"connection.idle_timeout",
	"connection.header_timeout",
	"connection.body_timeout",
	"connection.write_timeout",
	"connection.linger",
	"connection.drain_limit",
	"connection.keep_trailers",

	"static.root",
	"static.chunk_size",
	"static.default_type",
	// static.index_files is a list; set it in the config file.

	"access_log.output",
	"access_log.channel_size",
	"access_log.batch_size",
	"access_log.flush_interval",
	"access_log.send_timeout",
	"access_log.warning_threshold",
	"access_log.buffer_size",

	"admin.addr",

	"tracing.enabled",
	"tracing.output",
	"tracing.sample_ratio",
	"tracing.service_name",

	"dev_mode",
}

func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig is LoadConfigRaw followed by dev defaults and validation.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw returns the file and environment settings with defaults
// filled in. Dev defaults and validation are left to the caller so that
// command-line flags can be applied first.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: environment variables and defaults only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the loaded config file, or "" when settings come
// from the environment only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
