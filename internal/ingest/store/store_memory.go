package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"regsync/internal/ingest/models"
	"regsync/pkg/cyclecontext"
	"regsync/pkg/platform/sentinel"
)

// InMemoryStore is a source table plus watermark table held in memory.
// Used by tests and by the match CLI dry runs.
type InMemoryStore struct {
	mu         sync.RWMutex
	rows       []models.SourceRecord
	watermarks map[string]models.Watermark

	// AdvanceErr, when set, is returned by AdvanceWatermark.
	AdvanceErr error
	// FetchErr, when set, is returned by FetchRowsAfter.
	FetchErr error
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{watermarks: make(map[string]models.Watermark)}
}

// Append adds rows to the source table, keeping (timestamp, id) order.
func (s *InMemoryStore) Append(records ...models.SourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, records...)
	slices.SortStableFunc(s.rows, func(a, b models.SourceRecord) int {
		return a.Position().Compare(b.Position())
	})
}

func (s *InMemoryStore) ReadWatermark(_ context.Context, table string) (*models.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.watermarks[table]
	if !ok {
		return nil, nil
	}
	if wm.LastError != nil {
		msg := *wm.LastError
		wm.LastError = &msg
	}
	return &wm, nil
}

func (s *InMemoryStore) FetchRowsAfter(_ context.Context, pos models.Position, limit int) ([]models.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	var out []models.SourceRecord
	for _, rec := range s.rows {
		if rec.Position().Compare(pos) <= 0 {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) AdvanceWatermark(ctx context.Context, table string, pos models.Position, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AdvanceErr != nil {
		return s.AdvanceErr
	}
	wm, ok := s.watermarks[table]
	if ok && pos.Compare(wm.LastPosition) <= 0 {
		return fmt.Errorf("advance watermark for %s: %w", table, sentinel.ErrInvalidState)
	}
	wm.TableName = table
	wm.LastPosition = pos
	wm.RecordsProcessed += int64(count)
	wm.LastError = nil
	wm.UpdatedAt = cyclecontext.Now(ctx)
	s.watermarks[table] = wm
	return nil
}

func (s *InMemoryStore) RecordWatermarkError(ctx context.Context, table string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.watermarks[table]
	if !ok {
		return nil
	}
	wm.LastError = &message
	wm.UpdatedAt = cyclecontext.Now(ctx)
	s.watermarks[table] = wm
	return nil
}
