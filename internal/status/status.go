// Package status reports the sync position, the failure backlog and the health
// of the process's dependencies.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"regsync/internal/ingest/models"
)

// WatermarkReader reads the persisted cursor. A nil watermark means the
// table has never been polled.
type WatermarkReader interface {
	ReadWatermark(ctx context.Context, table string) (*models.Watermark, error)
}

// FailureCounter counts outstanding (unsynced) ledger entries.
type FailureCounter interface {
	Count(ctx context.Context) (int, error)
}

// Check tests one dependency.
type Check func(ctx context.Context) error

// Stats is the snapshot served on /stats and by `regsync status`.
type Stats struct {
	Table               string     `json:"table"`
	LastTimestamp       *time.Time `json:"last_timestamp,omitempty"`
	LastRowID           string     `json:"last_row_id,omitempty"`
	RecordsProcessed    int64      `json:"records_processed"`
	LastError           *string    `json:"last_error,omitempty"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
	OutstandingFailures int        `json:"outstanding_failures"`
}

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Health aggregates dependency checks. Checks maps a dependency name to "ok"
// or its error message.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Healthy reports whether every check passed.
func (h Health) Healthy() bool {
	return h.Status == StatusOK
}

type namedCheck struct {
	name  string
	check Check
}

type Service struct {
	table        string
	watermarks   WatermarkReader
	failures     FailureCounter
	checks       []namedCheck
	checkTimeout time.Duration
	logger       *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCheck registers a dependency check reported by Health.
func WithCheck(name string, check Check) Option {
	return func(s *Service) {
		if check != nil {
			s.checks = append(s.checks, namedCheck{name: name, check: check})
		}
	}
}

// WithCheckTimeout bounds each individual check.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.checkTimeout = d
		}
	}
}

const DefaultCheckTimeout = 2 * time.Second

func New(table string, watermarks WatermarkReader, failures FailureCounter, opts ...Option) (*Service, error) {
	if table == "" {
		return nil, fmt.Errorf("table is required")
	}
	if watermarks == nil {
		return nil, fmt.Errorf("watermark reader is required")
	}
	if failures == nil {
		return nil, fmt.Errorf("failure counter is required")
	}
	s := &Service{
		table:        table,
		watermarks:   watermarks,
		failures:     failures,
		checkTimeout: DefaultCheckTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Stats reads the watermark and the outstanding failure count.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	wm, err := s.watermarks.ReadWatermark(ctx, s.table)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	outstanding, err := s.failures.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count failures: %w", err)
	}

	stats := &Stats{Table: s.table, OutstandingFailures: outstanding}
	if wm != nil {
		if !wm.LastPosition.IsZero() {
			ts := wm.LastPosition.Timestamp
			stats.LastTimestamp = &ts
			stats.LastRowID = wm.LastPosition.RowID
		}
		stats.RecordsProcessed = wm.RecordsProcessed
		stats.LastError = wm.LastError
		updated := wm.UpdatedAt
		stats.UpdatedAt = &updated
	}
	return stats, nil
}

// Health runs every registered check sequentially in registration order.
func (s *Service) Health(ctx context.Context) Health {
	result := Health{Status: StatusOK, Checks: make(map[string]string, len(s.checks))}
	for _, nc := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
		err := nc.check(checkCtx)
		cancel()
		if err != nil {
			result.Status = StatusDegraded
			result.Checks[nc.name] = err.Error()
			s.logger.WarnContext(ctx, "health check failed",
				"check", nc.name,
				"error", err,
			)
			continue
		}
		result.Checks[nc.name] = StatusOK
	}
	return result
}
