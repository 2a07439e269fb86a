package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"regsync/internal/ingest/models"
	"regsync/pkg/cyclecontext"
	"regsync/pkg/platform/sentinel"
)

// PostgresStore reads an append-only source table and keeps watermarks in
// sync_watermarks. The source table must expose id, event_time, natural_key
// and payload columns.
type PostgresStore struct {
	db          *sql.DB
	sourceTable string
}

// NewPostgres constructs a PostgreSQL-backed ingest store for sourceTable.
func NewPostgres(db *sql.DB, sourceTable string) *PostgresStore {
	return &PostgresStore{db: db, sourceTable: sourceTable}
}

func (s *PostgresStore) ReadWatermark(ctx context.Context, table string) (*models.Watermark, error) {
	query := `
		SELECT table_name, last_timestamp, last_row_id, records_processed, last_error, updated_at
		FROM sync_watermarks
		WHERE table_name = $1
	`
	wm, err := scanWatermark(s.db.QueryRowContext(ctx, query, table))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	return wm, nil
}

// FetchRowsAfter compares row ids with the "C" collation so the database
// order matches models.Position.Compare byte order.
func (s *PostgresStore) FetchRowsAfter(ctx context.Context, pos models.Position, limit int) ([]models.SourceRecord, error) {
	query := fmt.Sprintf(`
		SELECT id::text, event_time, COALESCE(natural_key, ''), payload::text
		FROM %s
		WHERE (event_time, id::text COLLATE "C") > ($1::timestamptz, $2::text COLLATE "C")
		ORDER BY event_time ASC, id::text COLLATE "C" ASC
		LIMIT $3
	`, pq.QuoteIdentifier(s.sourceTable))

	rows, err := s.db.QueryContext(ctx, query, pos.Timestamp, pos.RowID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch rows after watermark: %w", err)
	}
	defer rows.Close()

	var records []models.SourceRecord
	for rows.Next() {
		var rec models.SourceRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.NaturalKeyRef, &payload); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.Payload = payload
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return records, nil
}

// AdvanceWatermark upserts the cursor. The conditional update refuses to move
// an existing cursor backwards; a refused move returns sentinel.ErrInvalidState.
func (s *PostgresStore) AdvanceWatermark(ctx context.Context, table string, pos models.Position, count int) error {
	query := `
		INSERT INTO sync_watermarks (table_name, last_timestamp, last_row_id, records_processed, last_error, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5)
		ON CONFLICT (table_name) DO UPDATE SET
			last_timestamp = EXCLUDED.last_timestamp,
			last_row_id = EXCLUDED.last_row_id,
			records_processed = sync_watermarks.records_processed + EXCLUDED.records_processed,
			last_error = NULL,
			updated_at = EXCLUDED.updated_at
		WHERE (sync_watermarks.last_timestamp, sync_watermarks.last_row_id) < (EXCLUDED.last_timestamp, EXCLUDED.last_row_id)
	`
	res, err := s.db.ExecContext(ctx, query, table, pos.Timestamp, pos.RowID, count, cyclecontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance watermark rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("advance watermark for %s to %s/%s: %w", table, pos.Timestamp, pos.RowID, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresStore) RecordWatermarkError(ctx context.Context, table string, message string) error {
	query := `
		UPDATE sync_watermarks
		SET last_error = $2, updated_at = $3
		WHERE table_name = $1
	`
	if _, err := s.db.ExecContext(ctx, query, table, message, cyclecontext.Now(ctx)); err != nil {
		return fmt.Errorf("record watermark error: %w", err)
	}
	return nil
}

func scanWatermark(row *sql.Row) (*models.Watermark, error) {
	var wm models.Watermark
	var lastError sql.NullString
	if err := row.Scan(
		&wm.TableName,
		&wm.LastPosition.Timestamp,
		&wm.LastPosition.RowID,
		&wm.RecordsProcessed,
		&lastError,
		&wm.UpdatedAt,
	); err != nil {
		return nil, err
	}
	wm.LastPosition.Timestamp = wm.LastPosition.Timestamp.UTC()
	if lastError.Valid {
		wm.LastError = &lastError.String
	}
	return &wm, nil
}
