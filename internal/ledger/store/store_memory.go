package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"regsync/internal/ledger/models"
	"regsync/pkg/platform/sentinel"
)

// InMemoryStore mirrors PostgresStore semantics for tests and local runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  map[uuid.UUID]*models.FailureEntry
	bySource map[string]uuid.UUID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		entries:  make(map[uuid.UUID]*models.FailureEntry),
		bySource: make(map[string]uuid.UUID),
	}
}

func (s *InMemoryStore) UpsertFailure(_ context.Context, entry *models.FailureEntry) (*models.FailureEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("failure entry is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bySource[entry.SourceID]; ok {
		existing := s.entries[id]
		existing.AttemptCount++
		existing.LastError = entry.LastError
		existing.LastAttemptAt = copyTime(&entry.CreatedAt)
		existing.EncryptedNaturalKey = entry.EncryptedNaturalKey
		existing.EncryptedPayload = entry.EncryptedPayload
		existing.Synced = false
		return clone(existing), nil
	}

	stored := clone(entry)
	stored.AttemptCount = 1
	stored.Synced = false
	s.entries[stored.ID] = stored
	s.bySource[stored.SourceID] = stored.ID
	return clone(stored), nil
}

func (s *InMemoryStore) FetchRetryCandidates(_ context.Context, cutoff time.Time, limit int) ([]*models.FailureEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.FailureEntry
	for _, e := range s.entries {
		if e.Synced {
			continue
		}
		if e.LastAttemptAt != nil && e.LastAttemptAt.After(cutoff) {
			continue
		}
		out = append(out, clone(e))
	}
	slices.SortFunc(out, func(a, b *models.FailureEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) GetFailure(_ context.Context, id uuid.UUID) (*models.FailureEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(e), nil
}

func (s *InMemoryStore) DeleteFailure(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySource[sourceID]
	if !ok || s.entries[id].Synced {
		return nil
	}
	delete(s.entries, id)
	delete(s.bySource, sourceID)
	return nil
}

func (s *InMemoryStore) UpdateFailureAfterRetry(_ context.Context, id uuid.UUID, outcome models.RetryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	at := outcome.AttemptedAt
	e.AttemptCount++
	e.LastError = outcome.LastError
	e.LastAttemptAt = &at
	if outcome.Synced {
		e.EncryptedNaturalKey = outcome.NaturalKeyHash
		e.Synced = true
	}
	return nil
}

func (s *InMemoryStore) CountFailures(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.entries {
		if !e.Synced {
			count++
		}
	}
	return count, nil
}

func clone(e *models.FailureEntry) *models.FailureEntry {
	c := *e
	c.LastAttemptAt = copyTime(e.LastAttemptAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
