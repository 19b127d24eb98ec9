package admin

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pyxhttp/pyx/internal/service"
)

// Metrics holds the Prometheus metrics of the admin listener itself.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the admin metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pyx",
				Subsystem: "admin",
				Name:      "requests_total",
				Help:      "Total number of admin requests served",
			},
			[]string{"path", "status"}, // status=ok/client_error/server_error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pyx",
				Subsystem: "admin",
				Name:      "request_duration_seconds",
				Help:      "Admin request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}
}

// RegisterAccessLogMetrics exposes the access log queue depth and drop
// count, read from svc at scrape time.
func RegisterAccessLogMetrics(reg prometheus.Registerer, svc *service.AccessLogService) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "pyx",
			Subsystem: "access_log",
			Name:      "queue_depth",
			Help:      "Access records waiting to be written",
		},
		func() float64 { return float64(svc.ChannelDepth()) },
	)
	promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "pyx",
			Subsystem: "access_log",
			Name:      "drops_total",
			Help:      "Total access records dropped due to backpressure",
		},
		func() float64 { return float64(svc.DroppedRecords()) },
	)
}

// MetricsMiddleware records duration and status class per admin path.
// Scrapes of /metrics are not counted.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := pathLabel(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(path, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// pathLabel keeps label cardinality bounded to the routes served.
func pathLabel(p string) string {
	switch p {
	case "/health", "/access/recent":
		return p
	default:
		return "other"
	}
}

func statusToLabel(code int) string {
	switch {
	case code >= 500:
		return "server_error"
	case code >= 400:
		return "client_error"
	default:
		return "ok"
	}
}
