//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// shutdownSignals end "pyx serve" gracefully. Only Ctrl+C is delivered
// reliably on Windows.
var shutdownSignals = []os.Signal{os.Interrupt}

// stillActive is the exit code Windows reports for a running process.
const stillActive = 259

func pidAlive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

// requestStop terminates the server. There is no SIGTERM to deliver, so
// in-flight exchanges are cut short.
func requestStop(proc *os.Process) error {
	return proc.Kill()
}
