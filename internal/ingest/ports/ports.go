// Package ports defines the collaborators the CDC poller consumes.
package ports

import (
	"context"
	"encoding/json"
	"time"

	"regsync/internal/ingest/models"
)

// Store reads the source table and persists the per-table watermark.
type Store interface {
	// ReadWatermark returns the cursor for table, or nil if none is stored yet.
	ReadWatermark(ctx context.Context, table string) (*models.Watermark, error)

	// FetchRowsAfter returns up to limit rows strictly after pos in
	// (timestamp, row id) order.
	FetchRowsAfter(ctx context.Context, pos models.Position, limit int) ([]models.SourceRecord, error)

	// AdvanceWatermark moves the cursor forward to pos and adds count to the
	// processed counter. Moving backwards is rejected.
	AdvanceWatermark(ctx context.Context, table string, pos models.Position, count int) error

	// RecordWatermarkError stores the last cycle error without moving the cursor.
	RecordWatermarkError(ctx context.Context, table string, message string) error
}

// Processor handles one source record end to end. It must tolerate being
// invoked again for a record it already handled.
type Processor interface {
	Process(ctx context.Context, record models.SourceRecord) error
}

// FailureLedger quarantines records that failed processing.
type FailureLedger interface {
	RecordFailure(ctx context.Context, sourceID string, originalTimestamp time.Time, cause error, naturalKey string, payload json.RawMessage) error
	Clear(ctx context.Context, sourceID string) error
}
