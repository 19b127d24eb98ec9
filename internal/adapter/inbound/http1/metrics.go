package http1

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the connection engine.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	// ConnectionsRejected counts connections closed at accept by reason.
	ConnectionsRejected *prometheus.CounterVec
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ResponseBytes       prometheus.Counter
	PipelinedTotal      prometheus.Counter
	ProtocolErrors      *prometheus.CounterVec
	Timeouts            *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pyx",
				Name:      "connections_active",
				Help:      "Number of open client connections",
			},
		),
		ConnectionsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "pyx",
				Name:      "connections_total",
				Help:      "Total client connections accepted",
			},
		),
		ConnectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pyx",
				Name:      "connections_rejected_total",
				Help:      "Connections refused before any request was read",
			},
			[]string{"reason"},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pyx",
				Name:      "requests_total",
				Help:      "Total requests answered",
			},
			[]string{"method", "code"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pyx",
				Name:      "request_duration_seconds",
				Help:      "Time from parsed request head to the last response byte",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ResponseBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "pyx",
				Name:      "response_bytes_total",
				Help:      "Total response body bytes written",
			},
		),
		PipelinedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "pyx",
				Name:      "pipelined_requests_total",
				Help:      "Requests parsed while an earlier response was still outstanding",
			},
		),
		ProtocolErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pyx",
				Name:      "protocol_errors_total",
				Help:      "Malformed or rejected messages by kind",
			},
			[]string{"kind"}, // protocol, framing_policy, header_too_large, ...
		),
		Timeouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pyx",
				Name:      "timeouts_total",
				Help:      "Connection deadlines expired by phase",
			},
			[]string{"phase"}, // idle, header, body, write
		),
	}
}

// methodLabel keeps the method label bounded.
func methodLabel(m string) string {
	switch m {
	case "GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS", "PATCH", "TRACE", "CONNECT":
		return m
	default:
		return "OTHER"
	}
}

func (m *Metrics) observeRequest(method string, status int, seconds float64, bodyBytes int64) {
	label := methodLabel(method)
	m.RequestsTotal.WithLabelValues(label, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(label).Observe(seconds)
	m.ResponseBytes.Add(float64(bodyBytes))
}
