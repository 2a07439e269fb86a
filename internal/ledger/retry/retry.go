// Package retry drains the failure ledger: each cycle decrypts due entries,
// replays them through the processor and records the outcome.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"regsync/internal/codec"
	ingest "regsync/internal/ingest/models"
	"regsync/internal/ledger/metrics"
	"regsync/internal/ledger/models"
	"regsync/pkg/platform/sentinel"
)

// DefaultBatchSize bounds the entries attempted per cycle.
const DefaultBatchSize = 50

var tracer = otel.Tracer("regsync/ledger")

// Ledger is the part of the ledger service the retrier drives.
type Ledger interface {
	RetryCandidates(ctx context.Context, limit int) ([]*models.FailureEntry, error)
	Recover(entry *models.FailureEntry) (*codec.Recovered, error)
	MarkRetrySuccess(ctx context.Context, id uuid.UUID, naturalKey string) error
	MarkRetryFailure(ctx context.Context, id uuid.UUID, cause error) error
	Get(ctx context.Context, id uuid.UUID) (*models.FailureEntry, error)
	Count(ctx context.Context) (int, error)
}

// Processor replays a recovered source record.
type Processor interface {
	Process(ctx context.Context, record ingest.SourceRecord) error
}

// Result summarises one retry cycle.
type Result struct {
	Attempted int
	Succeeded int
	Failed    int
}

type Retrier struct {
	ledger    Ledger
	processor Processor
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Retrier)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Retrier) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Retrier) {
		r.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func New(ledger Ledger, processor Processor, opts ...Option) (*Retrier, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	r := &Retrier{
		ledger:    ledger,
		processor: processor,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunCycle retries every due entry up to the batch size. A failed attempt is
// recorded on the entry and the cycle moves on; only ledger storage errors
// abort the cycle.
func (r *Retrier) RunCycle(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "ledger.retry_cycle")
	defer span.End()

	var result Result
	entries, err := r.ledger.RetryCandidates(ctx, r.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	for _, entry := range entries {
		result.Attempted++
		attemptErr, err := r.retryOne(ctx, entry)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}
		if attemptErr != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}

	if r.metrics != nil {
		if n, err := r.ledger.Count(ctx); err == nil {
			r.metrics.SetOutstanding(n)
		}
	}
	span.SetAttributes(
		attribute.Int("attempted", result.Attempted),
		attribute.Int("failed", result.Failed),
	)
	if result.Attempted > 0 {
		r.logger.InfoContext(ctx, "retry cycle complete",
			"attempted", result.Attempted,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// AttemptError reports a resync attempt that ran and failed. The failure is
// already recorded on the entry.
type AttemptError struct {
	ID  uuid.UUID
	Err error
}

func (e *AttemptError) Error() string {
	return e.Err.Error()
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Resync retries a single entry immediately, ignoring the cooldown. A failed
// attempt is returned as *AttemptError after it has been recorded.
func (r *Retrier) Resync(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "ledger.resync")
	defer span.End()
	span.SetAttributes(attribute.String("ledger_id", id.String()))

	entry, err := r.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Synced {
		return fmt.Errorf("ledger entry %s already synced: %w", id, sentinel.ErrInvalidState)
	}
	attemptErr, err := r.retryOne(ctx, entry)
	if err != nil {
		return err
	}
	if attemptErr != nil {
		return &AttemptError{ID: id, Err: attemptErr}
	}
	return nil
}

// retryOne returns the attempt's processing error separately from storage
// errors that must abort the caller.
func (r *Retrier) retryOne(ctx context.Context, entry *models.FailureEntry) (attemptErr, err error) {
	ctx, span := tracer.Start(ctx, "ledger.retry")
	defer span.End()
	span.SetAttributes(attribute.String("source_id", entry.SourceID))

	recovered, decodeErr := r.ledger.Recover(entry)
	if decodeErr != nil {
		attemptErr = decodeErr
	} else {
		attemptErr = r.process(ctx, ingest.SourceRecord{
			ID:            entry.SourceID,
			Timestamp:     entry.OriginalTimestamp,
			NaturalKeyRef: recovered.NaturalKey,
			Payload:       recovered.Payload,
		})
	}

	if attemptErr != nil {
		span.RecordError(attemptErr)
		r.observe("failure")
		r.logger.WarnContext(ctx, "retry attempt failed",
			"ledger_id", entry.ID,
			"source_id", entry.SourceID,
			"attempt_count", entry.AttemptCount+1,
			"error", attemptErr,
		)
		if err := r.ledger.MarkRetryFailure(ctx, entry.ID, attemptErr); err != nil {
			return attemptErr, err
		}
		return attemptErr, nil
	}

	r.observe("success")
	if err := r.ledger.MarkRetrySuccess(ctx, entry.ID, recovered.NaturalKey); err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "ledger entry synced",
		"ledger_id", entry.ID,
		"source_id", entry.SourceID,
	)
	return nil, nil
}

func (r *Retrier) process(ctx context.Context, rec ingest.SourceRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("processor panic: %v", p)
		}
	}()
	return r.processor.Process(ctx, rec)
}

func (r *Retrier) observe(outcome string) {
	if r.metrics != nil {
		r.metrics.IncrementRetry(outcome)
	}
}
