//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"regsync/internal/ledger/models"
	"regsync/internal/ledger/store"
	"regsync/pkg/platform/sentinel"
	"regsync/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	t0       time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "sync_failures"))
}

func (s *PostgresStoreSuite) newEntry(sourceID string, at time.Time) *models.FailureEntry {
	return &models.FailureEntry{
		ID:                  uuid.New(),
		SourceID:            sourceID,
		OriginalTimestamp:   s.t0.Add(-time.Hour),
		LastError:           "timeout",
		CreatedAt:           at,
		EncryptedNaturalKey: "iv:key",
		EncryptedPayload:    "iv:payload",
	}
}

func (s *PostgresStoreSuite) TestUpsertCreatesThenIncrements() {
	ctx := context.Background()

	first, err := s.store.UpsertFailure(ctx, s.newEntry("src-1", s.t0))
	s.Require().NoError(err)
	s.Equal(1, first.AttemptCount)
	s.Nil(first.LastAttemptAt)

	again := s.newEntry("src-1", s.t0.Add(time.Minute))
	again.LastError = "bad data"
	second, err := s.store.UpsertFailure(ctx, again)
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID, "source id keeps its entry")
	s.Equal(2, second.AttemptCount)
	s.Equal("bad data", second.LastError)
	s.True(s.t0.Add(time.Minute).Equal(*second.LastAttemptAt))
	s.True(first.CreatedAt.Equal(second.CreatedAt))
}

// TestConcurrentUpsertCountsEveryFailure verifies the atomic upsert under
// concurrent failures for one source id.
func (s *PostgresStoreSuite) TestConcurrentUpsertCountsEveryFailure() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.UpsertFailure(ctx, s.newEntry("hot", s.t0))
			s.NoError(err)
		}()
	}
	wg.Wait()

	entries, err := s.store.FetchRetryCandidates(ctx, s.t0, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(goroutines, entries[0].AttemptCount)
}

func (s *PostgresStoreSuite) TestFetchRetryCandidates() {
	ctx := context.Background()
	_, err := s.store.UpsertFailure(ctx, s.newEntry("old", s.t0.Add(-time.Minute)))
	s.Require().NoError(err)
	_, err = s.store.UpsertFailure(ctx, s.newEntry("old", s.t0))
	s.Require().NoError(err)
	_, err = s.store.UpsertFailure(ctx, s.newEntry("recent", s.t0))
	s.Require().NoError(err)
	_, err = s.store.UpsertFailure(ctx, s.newEntry("recent", s.t0.Add(4*time.Minute)))
	s.Require().NoError(err)
	synced, err := s.store.UpsertFailure(ctx, s.newEntry("done", s.t0.Add(-time.Minute)))
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpdateFailureAfterRetry(ctx, synced.ID, models.RetryOutcome{
		AttemptedAt:    s.t0.Add(-time.Minute),
		Synced:         true,
		NaturalKeyHash: "abc123",
	}))

	entries, err := s.store.FetchRetryCandidates(ctx, s.t0, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("old", entries[0].SourceID, "cutoff is inclusive and synced entries are excluded")

	count, err := s.store.CountFailures(ctx)
	s.Require().NoError(err)
	s.Equal(2, count)

	done, err := s.store.GetFailure(ctx, synced.ID)
	s.Require().NoError(err)
	s.True(done.Synced)
	s.Equal("abc123", done.EncryptedNaturalKey)
}

func (s *PostgresStoreSuite) TestUpdateAndDelete() {
	ctx := context.Background()
	entry, err := s.store.UpsertFailure(ctx, s.newEntry("src-1", s.t0))
	s.Require().NoError(err)

	s.Require().NoError(s.store.UpdateFailureAfterRetry(ctx, entry.ID, models.RetryOutcome{
		LastError:   "still down",
		AttemptedAt: s.t0.Add(5 * time.Minute),
	}))
	got, err := s.store.GetFailure(ctx, entry.ID)
	s.Require().NoError(err)
	s.Equal(2, got.AttemptCount)
	s.Equal("still down", got.LastError)
	s.Equal("iv:key", got.EncryptedNaturalKey)

	s.Require().NoError(s.store.DeleteFailure(ctx, "src-1"))
	_, err = s.store.GetFailure(ctx, entry.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.UpdateFailureAfterRetry(ctx, entry.ID, models.RetryOutcome{AttemptedAt: s.t0})
	s.ErrorIs(err, sentinel.ErrNotFound)
}
