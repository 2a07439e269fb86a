package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"regsync/internal/ledger/models"
	"regsync/pkg/platform/sentinel"
)

const failureColumns = `id, source_id, original_timestamp, attempt_count, last_error, last_attempt_at,
	created_at, encrypted_natural_key, encrypted_payload, synced`

// PostgresStore persists failure ledger entries in sync_failures.
// Pure I/O: cooldown cutoffs and hashing are decided by the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpsertFailure inserts a new entry or, when source_id already has one,
// increments its attempt count and refreshes error and payload in a single
// statement so concurrent failures for one source id cannot race. On conflict
// last_attempt_at takes the incoming entry's created_at, the time of the
// repeat failure.
func (s *PostgresStore) UpsertFailure(ctx context.Context, entry *models.FailureEntry) (*models.FailureEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("failure entry is required")
	}
	query := `
		INSERT INTO sync_failures (` + failureColumns + `)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7, $8, FALSE)
		ON CONFLICT (source_id) DO UPDATE SET
			attempt_count = sync_failures.attempt_count + 1,
			last_error = EXCLUDED.last_error,
			last_attempt_at = EXCLUDED.created_at,
			encrypted_natural_key = EXCLUDED.encrypted_natural_key,
			encrypted_payload = EXCLUDED.encrypted_payload,
			synced = FALSE
		RETURNING ` + failureColumns
	stored, err := scanFailure(s.db.QueryRowContext(ctx, query,
		entry.ID,
		entry.SourceID,
		entry.OriginalTimestamp,
		entry.LastError,
		entry.LastAttemptAt,
		entry.CreatedAt,
		entry.EncryptedNaturalKey,
		entry.EncryptedPayload,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert failure: %w", err)
	}
	return stored, nil
}

// FetchRetryCandidates returns unsynced entries never attempted or last
// attempted at or before cutoff, oldest first.
func (s *PostgresStore) FetchRetryCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*models.FailureEntry, error) {
	query := `
		SELECT ` + failureColumns + `
		FROM sync_failures
		WHERE synced = FALSE
		  AND (last_attempt_at IS NULL OR last_attempt_at <= $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch retry candidates: %w", err)
	}
	defer rows.Close()

	var entries []*models.FailureEntry
	for rows.Next() {
		entry, err := scanFailure(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retry candidate: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retry candidates: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) GetFailure(ctx context.Context, id uuid.UUID) (*models.FailureEntry, error) {
	query := `SELECT ` + failureColumns + ` FROM sync_failures WHERE id = $1`
	entry, err := scanFailure(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get failure: %w", err)
	}
	return entry, nil
}

// DeleteFailure removes the unsynced entry for sourceID, if any.
func (s *PostgresStore) DeleteFailure(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_failures WHERE source_id = $1 AND synced = FALSE`, sourceID)
	if err != nil {
		return fmt.Errorf("delete failure: %w", err)
	}
	return nil
}

// UpdateFailureAfterRetry records a retry attempt. On success the encrypted
// natural key is replaced by its hash and the entry is marked synced.
func (s *PostgresStore) UpdateFailureAfterRetry(ctx context.Context, id uuid.UUID, outcome models.RetryOutcome) error {
	var (
		res sql.Result
		err error
	)
	if outcome.Synced {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sync_failures
			SET attempt_count = attempt_count + 1,
				last_error = $2,
				last_attempt_at = $3,
				encrypted_natural_key = $4,
				synced = TRUE
			WHERE id = $1
		`, id, outcome.LastError, outcome.AttemptedAt, outcome.NaturalKeyHash)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sync_failures
			SET attempt_count = attempt_count + 1,
				last_error = $2,
				last_attempt_at = $3
			WHERE id = $1
		`, id, outcome.LastError, outcome.AttemptedAt)
	}
	if err != nil {
		return fmt.Errorf("update failure after retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update failure rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// CountFailures returns the number of outstanding (unsynced) entries.
func (s *PostgresStore) CountFailures(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_failures WHERE synced = FALSE`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFailure(row scanner) (*models.FailureEntry, error) {
	var entry models.FailureEntry
	var lastAttempt sql.NullTime
	if err := row.Scan(
		&entry.ID,
		&entry.SourceID,
		&entry.OriginalTimestamp,
		&entry.AttemptCount,
		&entry.LastError,
		&lastAttempt,
		&entry.CreatedAt,
		&entry.EncryptedNaturalKey,
		&entry.EncryptedPayload,
		&entry.Synced,
	); err != nil {
		return nil, err
	}
	entry.OriginalTimestamp = entry.OriginalTimestamp.UTC()
	entry.CreatedAt = entry.CreatedAt.UTC()
	if lastAttempt.Valid {
		t := lastAttempt.Time.UTC()
		entry.LastAttemptAt = &t
	}
	return &entry, nil
}
