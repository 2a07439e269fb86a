package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RowsProcessed      *prometheus.CounterVec
	WatermarkTimestamp *prometheus.GaugeVec
	PollDuration       prometheus.Histogram
	PollErrors         prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RowsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_ingest_rows_total",
			Help: "Source rows handled by the poller, by outcome",
		}, []string{"outcome"}),
		WatermarkTimestamp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regsync_ingest_watermark_timestamp_seconds",
			Help: "Unix timestamp of the last watermark position per source table",
		}, []string{"table"}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "regsync_ingest_poll_duration_seconds",
			Help:    "Duration of a poll cycle",
			Buckets: prometheus.DefBuckets,
		}),
		PollErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "regsync_ingest_poll_errors_total",
			Help: "Poll cycles aborted by storage errors",
		}),
	}
}

func (m *Metrics) ObserveRows(succeeded, failed int) {
	m.RowsProcessed.WithLabelValues("success").Add(float64(succeeded))
	m.RowsProcessed.WithLabelValues("failure").Add(float64(failed))
}

func (m *Metrics) SetWatermark(table string, ts time.Time) {
	m.WatermarkTimestamp.WithLabelValues(table).Set(float64(ts.Unix()))
}

func (m *Metrics) ObservePoll(d time.Duration) {
	m.PollDuration.Observe(d.Seconds())
}

func (m *Metrics) IncrementPollErrors() {
	m.PollErrors.Inc()
}
