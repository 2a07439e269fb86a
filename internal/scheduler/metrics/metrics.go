package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SkippedTicks  *prometheus.CounterVec
	CycleErrors   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		SkippedTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_scheduler_skipped_ticks_total",
			Help: "Ticks skipped because the previous cycle of the task was still running",
		}, []string{"task"}),
		CycleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_scheduler_cycle_errors_total",
			Help: "Task cycles that returned an error",
		}, []string{"task"}),
		CycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regsync_scheduler_cycle_duration_seconds",
			Help:    "Duration of task cycles",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
	}
}

func (m *Metrics) IncrementSkipped(task string) {
	m.SkippedTicks.WithLabelValues(task).Inc()
}

func (m *Metrics) IncrementErrors(task string) {
	m.CycleErrors.WithLabelValues(task).Inc()
}

func (m *Metrics) ObserveCycle(task string, d time.Duration) {
	m.CycleDuration.WithLabelValues(task).Observe(d.Seconds())
}
