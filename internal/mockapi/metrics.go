package mockapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the local verification API.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DecisionsTotal  *prometheus.CounterVec
	AuthFailures    prometheus.Counter
	LogWriteErrors  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aportmock",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aportmock",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"method"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aportmock",
				Name:      "decisions_total",
				Help:      "Total verification decisions served",
			},
			[]string{"result"}, // result=allow/deny
		),
		AuthFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "aportmock",
				Name:      "auth_failures_total",
				Help:      "Total requests rejected for missing or invalid bearer tokens",
			},
		),
		LogWriteErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "aportmock",
				Name:      "decision_log_write_errors_total",
				Help:      "Total decisions that could not be appended to the decision log",
			},
		),
	}
}
