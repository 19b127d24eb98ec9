package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/pyxhttp/pyx/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// ConnectionCounter reports open client connections.
type ConnectionCounter interface {
	ActiveConnections() int64
}

// HealthChecker verifies component health.
type HealthChecker struct {
	conns     ConnectionCounter
	maxConns  int
	accessLog *service.AccessLogService
	root      string
	version   string
}

// NewHealthChecker creates a HealthChecker. Pass nil or zero values for
// components that aren't available.
func NewHealthChecker(
	conns ConnectionCounter,
	maxConns int,
	accessLog *service.AccessLogService,
	root string,
	version string,
) *HealthChecker {
	return &HealthChecker{
		conns:     conns,
		maxConns:  maxConns,
		accessLog: accessLog,
		root:      root,
		version:   version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.conns != nil {
		open := h.conns.ActiveConnections()
		if h.maxConns > 0 {
			checks["connections"] = fmt.Sprintf("%d/%d", open, h.maxConns)
		} else {
			checks["connections"] = fmt.Sprintf("%d", open)
		}
	} else {
		checks["connections"] = "not configured"
	}

	if h.root != "" {
		if fi, err := os.Stat(h.root); err != nil {
			checks["static_root"] = "unavailable: " + err.Error()
			healthy = false
		} else if !fi.IsDir() {
			checks["static_root"] = "unavailable: not a directory"
			healthy = false
		} else {
			checks["static_root"] = "ok"
		}
	} else {
		checks["static_root"] = "not configured"
	}

	if h.accessLog != nil {
		depth := h.accessLog.ChannelDepth()
		capacity := h.accessLog.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// The recorder is dropping or about to drop records.
			checks["access_log"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["access_log"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.accessLog.DroppedRecords(); drops > 0 {
			checks["access_log_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["access_log"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
