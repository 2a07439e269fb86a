package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	BreakerOpen     prometheus.Gauge
	CacheLookups    *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regsync_registry_request_duration_seconds",
			Help:    "Latency of registry calls by operation and outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "outcome"}),
		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "regsync_registry_breaker_open",
			Help: "1 while the registry circuit breaker is open",
		}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_registry_cache_lookups_total",
			Help: "Search cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveRequest(operation, outcome string, d time.Duration) {
	m.RequestDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}

func (m *Metrics) IncrementCache(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}
