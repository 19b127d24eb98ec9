// Package cmd provides the CLI commands for pyx.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pyxhttp/pyx/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pyx",
	Short: "pyx - HTTP/1.1 static file server",
	Long: `pyx is an HTTP/1.1 server for static files.

It implements keep-alive, pipelining, chunked transfer coding, conditional
and range requests, with per-connection limits and timeouts.

Quick start:
  pyx serve --root ./public --port 8000

Configuration:
  Config is loaded from pyx.yaml in the current directory, $HOME/.pyx/,
  or /etc/pyx/.

  Environment variables can override config values with the PYX_ prefix.
  Example: PYX_SERVER_ADDR=:9090

Commands:
  serve       Serve a directory
  stop        Stop the running server
  config      Print the effective configuration
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./pyx.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
