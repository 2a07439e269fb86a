package models

import (
	"encoding/json"
	"time"
)

// Position is a point in the source table's (timestamp, row id) order.
type Position struct {
	Timestamp time.Time
	RowID     string
}

// Compare orders positions lexicographically: timestamp first, then row id.
// It returns -1, 0 or +1.
func (p Position) Compare(other Position) int {
	switch {
	case p.Timestamp.Before(other.Timestamp):
		return -1
	case p.Timestamp.After(other.Timestamp):
		return 1
	case p.RowID < other.RowID:
		return -1
	case p.RowID > other.RowID:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether no row has ever been accounted for.
func (p Position) IsZero() bool {
	return p.Timestamp.IsZero() && p.RowID == ""
}

// Watermark is the persisted cursor for one source table.
type Watermark struct {
	TableName        string
	LastPosition     Position
	RecordsProcessed int64
	LastError        *string
	UpdatedAt        time.Time
}

// SourceRecord is one row of the append-only source table. Read-only here.
type SourceRecord struct {
	ID            string
	Timestamp     time.Time
	NaturalKeyRef string
	Payload       json.RawMessage
}

// Position returns the record's place in the poll order.
func (r SourceRecord) Position() Position {
	return Position{Timestamp: r.Timestamp, RowID: r.ID}
}

// PollResult summarises one poll cycle.
type PollResult struct {
	Fetched   int
	Succeeded int
	Failed    int
	Advanced  bool
	Position  Position
}
