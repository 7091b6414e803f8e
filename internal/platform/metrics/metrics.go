package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-wide HTTP metrics.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers the HTTP metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconcile_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}
