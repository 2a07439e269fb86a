package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	FailuresRecorded prometheus.Counter
	Outstanding      prometheus.Gauge
	RetryAttempts    *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		FailuresRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "regsync_ledger_failures_recorded_total",
			Help: "Failures written to the ledger, including repeat failures",
		}),
		Outstanding: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "regsync_ledger_outstanding",
			Help: "Unsynced ledger entries as of the last retry cycle",
		}),
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_retry_attempts_total",
			Help: "Ledger retry attempts by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncrementFailuresRecorded() {
	m.FailuresRecorded.Inc()
}

func (m *Metrics) SetOutstanding(n int) {
	m.Outstanding.Set(float64(n))
}

func (m *Metrics) IncrementRetry(outcome string) {
	m.RetryAttempts.WithLabelValues(outcome).Inc()
}
