package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the reconciler's remote calls.
type Metrics struct {
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	Coalesced    prometheus.Counter
}

// NewMetrics registers the reconciler metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deploywatch_webhook_calls_total",
			Help: "Total number of webhook API calls by operation and result",
		}, []string{"op", "result"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deploywatch_webhook_call_duration_seconds",
			Help:    "Duration of webhook API calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		Coalesced: factory.NewCounter(prometheus.CounterOpts{
			Name: "deploywatch_toggles_coalesced_total",
			Help: "Total number of toggles folded into a pending coalescing window",
		}),
	}
}

func (m *Metrics) recordCall(op string, err error, elapsed time.Duration) {
	if m == nil || m.CallsTotal == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.CallsTotal.WithLabelValues(op, result).Inc()
	m.CallDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) recordCoalesced() {
	if m == nil || m.Coalesced == nil {
		return
	}

	m.Coalesced.Inc()
}
