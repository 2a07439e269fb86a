package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	MatchResults *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		MatchResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_match_results_total",
			Help: "Candidate comparisons by resulting match level",
		}, []string{"level"}),
	}
}

func (m *Metrics) IncrementResult(level string) {
	m.MatchResults.WithLabelValues(level).Inc()
}
