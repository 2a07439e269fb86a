// Package poller implements the change-data-capture loop over the source
// table: fetch rows after the watermark, hand each to the processor, route
// failures to the ledger and advance the watermark past the whole batch.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"regsync/internal/ingest/metrics"
	"regsync/internal/ingest/models"
	"regsync/internal/ingest/ports"
	"regsync/pkg/platform/sentinel"
)

// DefaultBatchSize is the maximum number of rows fetched per cycle.
const DefaultBatchSize = 100

var tracer = otel.Tracer("regsync/ingest")

// Poller runs one poll cycle at a time for a single source table. It is not
// safe to run two cycles for the same table concurrently; the scheduler
// guarantees one in flight.
type Poller struct {
	table     string
	store     ports.Store
	processor ports.Processor
	failures  ports.FailureLedger
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Poller)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func New(table string, store ports.Store, processor ports.Processor, failures ports.FailureLedger, opts ...Option) (*Poller, error) {
	if table == "" {
		return nil, errors.New("table name is required")
	}
	if store == nil {
		return nil, errors.New("ingest store is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if failures == nil {
		return nil, errors.New("failure ledger is required")
	}
	p := &Poller{
		table:     table,
		store:     store,
		processor: processor,
		failures:  failures,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Table returns the source table this poller follows.
func (p *Poller) Table() string {
	return p.table
}

// Poll runs one cycle. Processing failures never abort the cycle: each failed
// row is written to the ledger and counted. Storage failures (watermark or
// ledger) abort the cycle and leave the watermark where it was, so the batch
// is fetched again next cycle.
func (p *Poller) Poll(ctx context.Context) (models.PollResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ingest.poll")
	defer span.End()
	span.SetAttributes(attribute.String("table", p.table))

	result, err := p.poll(ctx)
	if p.metrics != nil {
		p.metrics.ObservePoll(time.Since(start))
		p.metrics.ObserveRows(result.Succeeded, result.Failed)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if p.metrics != nil {
			p.metrics.IncrementPollErrors()
		}
		if recErr := p.store.RecordWatermarkError(ctx, p.table, err.Error()); recErr != nil {
			p.logger.WarnContext(ctx, "failed to record watermark error",
				"table", p.table,
				"error", recErr,
			)
		}
		return result, err
	}
	span.SetAttributes(
		attribute.Int("fetched", result.Fetched),
		attribute.Int("failed", result.Failed),
	)
	return result, nil
}

func (p *Poller) poll(ctx context.Context) (models.PollResult, error) {
	var result models.PollResult

	wm, err := p.store.ReadWatermark(ctx, p.table)
	if err != nil {
		return result, fmt.Errorf("read watermark: %w", err)
	}
	var from models.Position
	if wm != nil {
		from = wm.LastPosition
	}
	result.Position = from

	rows, err := p.store.FetchRowsAfter(ctx, from, p.batchSize)
	if err != nil {
		return result, fmt.Errorf("fetch rows: %w", err)
	}
	result.Fetched = len(rows)
	if len(rows) == 0 {
		return result, nil
	}

	for _, rec := range rows {
		procErr := p.process(ctx, rec)
		if procErr == nil {
			result.Succeeded++
			if err := p.failures.Clear(ctx, rec.ID); err != nil {
				p.logger.WarnContext(ctx, "failed to clear ledger entry",
					"source_id", rec.ID,
					"error", err,
				)
			}
			continue
		}

		result.Failed++
		p.logger.WarnContext(ctx, "record processing failed",
			"table", p.table,
			"source_id", rec.ID,
			"error", procErr,
		)
		if err := p.failures.RecordFailure(ctx, rec.ID, rec.Timestamp, procErr, rec.NaturalKeyRef, rec.Payload); err != nil {
			return result, fmt.Errorf("record failure for %s: %w", rec.ID, err)
		}
	}

	last := rows[len(rows)-1].Position()
	if last.Compare(from) <= 0 {
		return result, fmt.Errorf("batch ends at or before watermark: %w", sentinel.ErrInvalidState)
	}
	if err := p.store.AdvanceWatermark(ctx, p.table, last, len(rows)); err != nil {
		return result, fmt.Errorf("advance watermark: %w", err)
	}
	result.Advanced = true
	result.Position = last
	if p.metrics != nil {
		p.metrics.SetWatermark(p.table, last.Timestamp)
	}

	p.logger.InfoContext(ctx, "poll cycle complete",
		"table", p.table,
		"fetched", result.Fetched,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}

// process isolates the processor: a panic is reported as that row's failure.
func (p *Poller) process(ctx context.Context, rec models.SourceRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	ctx, span := tracer.Start(ctx, "ingest.process")
	defer span.End()
	span.SetAttributes(attribute.String("source_id", rec.ID))
	if err := p.processor.Process(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
