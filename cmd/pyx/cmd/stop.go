package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pyxhttp/pyx/internal/config"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pyx server",
	Long: `Stop a running pyx server by reading its PID file and sending SIGTERM.
The server finishes in-flight exchanges before it exits.

The PID file is server.pid_file, by default ~/.pyx/server.pid.

Examples:
  # Stop the running server
  pyx stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	pidPath := pidFilePath(cfg.Server.PIDFile)
	out := cmd.ErrOrStderr()

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no server PID file found at %s\nIs the server running?", pidPath)
	}
	if !pidAlive(pid) {
		os.Remove(pidPath)
		return fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	defer os.Remove(pidPath)

	fmt.Fprintf(out, "Stopping pyx server (PID %d)...\n", pid)
	if err := requestStop(proc); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if waitForExit(pid, stopWait(cfg.Server.ShutdownTimeout)) {
		fmt.Fprintln(out, "Server stopped.")
		return nil
	}

	fmt.Fprintln(out, "Server did not stop in time, killing it.")
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}

// stopWait is how long "pyx stop" waits: twice the server's shutdown
// timeout (graceful phase plus forced close) with some margin, at least 20s.
func stopWait(shutdownTimeout string) time.Duration {
	d, err := time.ParseDuration(shutdownTimeout)
	if err != nil {
		return 20 * time.Second
	}
	return max(2*d+5*time.Second, 20*time.Second)
}

// waitForExit polls until pid is gone or limit passes.
func waitForExit(pid int, limit time.Duration) bool {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(limit)
	for {
		select {
		case <-ticker.C:
			if !pidAlive(pid) {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// pidFilePath returns configured, or the standard PID file location.
func pidFilePath(configured string) string {
	if configured != "" {
		return configured
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".pyx", "server.pid")
	}
	return filepath.Join(os.TempDir(), "pyx-server.pid")
}

// writePIDFile records this process's PID at path.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile returns the PID stored at path, or 0.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
