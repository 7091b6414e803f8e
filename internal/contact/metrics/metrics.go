package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"reconcile/internal/contact/models"
)

// Metrics provides observability for identity reconciliation.
type Metrics struct {
	IdentifyTotal    *prometheus.CounterVec
	IdentifyDuration prometheus.Histogram
	MergesTotal      prometheus.Counter
	TxRetriesTotal   prometheus.Counter
}

// New registers the contact metrics with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the contact metrics with reg. Tests pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdentifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_identify_total",
			Help: "Identify calls by outcome",
		}, []string{"outcome"}),
		IdentifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_identify_duration_seconds",
			Help:    "Duration of Identify including lock wait and transaction retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		MergesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_merges_total",
			Help: "Clusters folded into an older primary",
		}),
		TxRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_tx_retries_total",
			Help: "Transactions replayed after a serialization failure",
		}),
	}
}

const outcomeError = "error"

// ObserveIdentify records one successful call.
func (m *Metrics) ObserveIdentify(outcome models.Outcome, start time.Time) {
	m.IdentifyTotal.WithLabelValues(string(outcome)).Inc()
	m.IdentifyDuration.Observe(time.Since(start).Seconds())
}

// ObserveIdentifyFailure records a call that returned an error.
func (m *Metrics) ObserveIdentifyFailure(start time.Time) {
	m.IdentifyTotal.WithLabelValues(outcomeError).Inc()
	m.IdentifyDuration.Observe(time.Since(start).Seconds())
}

// AddMerges records clusters merged by a single call.
func (m *Metrics) AddMerges(n int) {
	if n > 0 {
		m.MergesTotal.Add(float64(n))
	}
}

// IncrementTxRetries matches the store retry observer signature.
func (m *Metrics) IncrementTxRetries(_ int, _ error) {
	m.TxRetriesTotal.Inc()
}
