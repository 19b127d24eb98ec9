//go:build !windows

package cmd

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// shutdownSignals end "pyx serve" gracefully.
var shutdownSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// pidAlive reports whether a process with pid exists. EPERM means it
// exists but belongs to another user.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// requestStop asks the server to drain and exit.
func requestStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
