// Package service owns the failure ledger's business rules: what is encrypted,
// when an entry is due for retry, and how a successful retry is recorded.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"regsync/internal/codec"
	"regsync/internal/ledger/metrics"
	"regsync/internal/ledger/models"
	"regsync/pkg/cyclecontext"
)

// DefaultCooldown is the minimum gap between attempts on one entry.
const DefaultCooldown = 5 * time.Minute

// Store is the persistence port for ledger entries.
type Store interface {
	UpsertFailure(ctx context.Context, entry *models.FailureEntry) (*models.FailureEntry, error)
	FetchRetryCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*models.FailureEntry, error)
	GetFailure(ctx context.Context, id uuid.UUID) (*models.FailureEntry, error)
	DeleteFailure(ctx context.Context, sourceID string) error
	UpdateFailureAfterRetry(ctx context.Context, id uuid.UUID, outcome models.RetryOutcome) error
	CountFailures(ctx context.Context) (int, error)
}

// Codec encrypts ledger payloads at rest and hashes natural keys.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	HashNaturalKey(value string) string
	DecryptRecoveredEntry(encryptedNaturalKey, encryptedPayload string) (*codec.Recovered, error)
}

type Service struct {
	store    Store
	codec    Codec
	cooldown time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCooldown(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

func New(store Store, c Codec, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if c == nil {
		return nil, errors.New("codec is required")
	}
	svc := &Service{
		store:    store,
		codec:    c,
		cooldown: DefaultCooldown,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Cooldown returns the configured minimum gap between attempts.
func (s *Service) Cooldown() time.Duration {
	return s.cooldown
}

// RecordFailure quarantines a record that failed processing. The natural key
// and payload are encrypted before they reach storage. A repeat failure for
// the same source id increments the existing entry. A new entry has no
// last attempt and is due on the next retry cycle; a repeat failure stamps
// the last attempt with the failure time so the cooldown applies.
func (s *Service) RecordFailure(ctx context.Context, sourceID string, originalTimestamp time.Time, cause error, naturalKey string, payload json.RawMessage) error {
	if sourceID == "" {
		return errors.New("source id is required")
	}
	encKey := ""
	if naturalKey != "" {
		var err error
		if encKey, err = s.codec.Encrypt(naturalKey); err != nil {
			return fmt.Errorf("encrypt natural key: %w", err)
		}
	}
	encPayload, err := s.codec.Encrypt(string(payload))
	if err != nil {
		return fmt.Errorf("encrypt payload: %w", err)
	}

	now := cyclecontext.Now(ctx)
	entry, err := s.store.UpsertFailure(ctx, &models.FailureEntry{
		ID:                  uuid.New(),
		SourceID:            sourceID,
		OriginalTimestamp:   originalTimestamp,
		LastError:           errorMessage(cause),
		CreatedAt:           now,
		EncryptedNaturalKey: encKey,
		EncryptedPayload:    encPayload,
	})
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementFailuresRecorded()
	}
	s.logger.InfoContext(ctx, "failure recorded",
		"ledger_id", entry.ID,
		"source_id", sourceID,
		"attempt_count", entry.AttemptCount,
	)
	return nil
}

// RetryCandidates returns unsynced entries whose cooldown has elapsed,
// oldest first.
func (s *Service) RetryCandidates(ctx context.Context, limit int) ([]*models.FailureEntry, error) {
	cutoff := cyclecontext.Now(ctx).Add(-s.cooldown)
	entries, err := s.store.FetchRetryCandidates(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch retry candidates: %w", err)
	}
	return entries, nil
}

// Recover decrypts the natural key and payload stored on entry.
func (s *Service) Recover(entry *models.FailureEntry) (*codec.Recovered, error) {
	rec, err := s.codec.DecryptRecoveredEntry(entry.EncryptedNaturalKey, entry.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("recover ledger entry %s: %w", entry.ID, err)
	}
	return rec, nil
}

// MarkRetrySuccess marks the entry synced and replaces the encrypted natural
// key with its one-way hash so the plaintext is no longer recoverable.
func (s *Service) MarkRetrySuccess(ctx context.Context, id uuid.UUID, naturalKey string) error {
	hash := ""
	if naturalKey != "" {
		hash = s.codec.HashNaturalKey(naturalKey)
	}
	err := s.store.UpdateFailureAfterRetry(ctx, id, models.RetryOutcome{
		AttemptedAt:    cyclecontext.Now(ctx),
		Synced:         true,
		NaturalKeyHash: hash,
	})
	if err != nil {
		return fmt.Errorf("mark retry success: %w", err)
	}
	return nil
}

// MarkRetryFailure increments the attempt count and restarts the cooldown.
func (s *Service) MarkRetryFailure(ctx context.Context, id uuid.UUID, cause error) error {
	err := s.store.UpdateFailureAfterRetry(ctx, id, models.RetryOutcome{
		LastError:   errorMessage(cause),
		AttemptedAt: cyclecontext.Now(ctx),
	})
	if err != nil {
		return fmt.Errorf("mark retry failure: %w", err)
	}
	return nil
}

// Clear drops the outstanding entry for sourceID after the main flow
// processed that source record successfully.
func (s *Service) Clear(ctx context.Context, sourceID string) error {
	if err := s.store.DeleteFailure(ctx, sourceID); err != nil {
		return fmt.Errorf("clear ledger entry: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.FailureEntry, error) {
	entry, err := s.store.GetFailure(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

// Count returns the number of outstanding entries.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.store.CountFailures(ctx)
	if err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
