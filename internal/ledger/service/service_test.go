package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"regsync/internal/codec"
	"regsync/internal/ledger/models"
	"regsync/internal/ledger/store"
	"regsync/pkg/cyclecontext"
	"regsync/pkg/platform/sentinel"
)

type ServiceSuite struct {
	suite.Suite
	store *store.InMemoryStore
	codec *codec.Codec
	svc   *Service
	t0    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	c, err := codec.New([]byte(strings.Repeat("k", codec.KeySize)))
	s.Require().NoError(err)
	s.codec = c
	svc, err := New(s.store, s.codec, WithCooldown(5*time.Minute))
	s.Require().NoError(err)
	s.svc = svc
	s.t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) at(d time.Duration) context.Context {
	return cyclecontext.WithTime(context.Background(), s.t0.Add(d))
}

func (s *ServiceSuite) record(ctx context.Context, sourceID string, cause error) {
	err := s.svc.RecordFailure(ctx, sourceID, s.t0.Add(-time.Hour), cause, "NK-"+sourceID, json.RawMessage(`{"familyName":"Bell"}`))
	s.Require().NoError(err)
}

// only returns entries due at the given offset
func (s *ServiceSuite) due(d time.Duration) []*models.FailureEntry {
	entries, err := s.svc.RetryCandidates(s.at(d), 100)
	s.Require().NoError(err)
	return entries
}

// =============================================================================
// Construction
// =============================================================================

func (s *ServiceSuite) TestNewRequiresDependencies() {
	_, err := New(nil, s.codec)
	s.Error(err)
	_, err = New(s.store, nil)
	s.Error(err)

	svc, err := New(s.store, s.codec)
	s.Require().NoError(err)
	s.Equal(DefaultCooldown, svc.Cooldown())
}

// =============================================================================
// RecordFailure
// =============================================================================

func (s *ServiceSuite) TestRecordFailure() {
	s.Run("first failure creates an encrypted entry", func() {
		s.record(s.at(0), "src-1", errors.New("registry timeout"))

		entries := s.due(5 * time.Minute)
		s.Require().Len(entries, 1)
		e := entries[0]
		s.Equal("src-1", e.SourceID)
		s.Equal(1, e.AttemptCount)
		s.Equal("registry timeout", e.LastError)
		s.Nil(e.LastAttemptAt, "never retried yet")
		s.Equal(s.t0, e.CreatedAt)
		s.Equal(s.t0.Add(-time.Hour), e.OriginalTimestamp)
		s.False(e.Synced)
		s.NotContains(e.EncryptedNaturalKey, "NK-src-1")
		s.NotContains(e.EncryptedPayload, "Bell")

		rec, err := s.svc.Recover(e)
		s.Require().NoError(err)
		s.Equal("NK-src-1", rec.NaturalKey)
		s.JSONEq(`{"familyName":"Bell"}`, string(rec.Payload))
	})

	s.Run("repeat failure increments the same entry", func() {
		first := s.due(5 * time.Minute)[0]
		s.record(s.at(time.Minute), "src-1", errors.New("bad data"))

		entries := s.due(6 * time.Minute)
		s.Require().Len(entries, 1)
		s.Equal(first.ID, entries[0].ID)
		s.Equal(2, entries[0].AttemptCount)
		s.Equal("bad data", entries[0].LastError)
		s.Equal(s.t0.Add(time.Minute), *entries[0].LastAttemptAt)
	})

	s.Run("empty natural key is kept empty", func() {
		err := s.svc.RecordFailure(s.at(0), "src-2", time.Time{}, errors.New("x"), "", json.RawMessage(`{}`))
		s.Require().NoError(err)
		var found *models.FailureEntry
		for _, e := range s.due(time.Hour) {
			if e.SourceID == "src-2" {
				found = e
			}
		}
		s.Require().NotNil(found)
		s.Empty(found.EncryptedNaturalKey)
	})

	s.Run("source id is required", func() {
		err := s.svc.RecordFailure(s.at(0), "", time.Time{}, nil, "", nil)
		s.Error(err)
	})
}

// =============================================================================
// Cooldown and ordering
// =============================================================================

func (s *ServiceSuite) TestNewFailureIsDueOnNextTick() {
	s.record(s.at(0), "src-1", errors.New("timeout"))

	s.Len(s.due(0), 1)
	s.Len(s.due(time.Minute), 1, "no cooldown before the first retry")
}

func (s *ServiceSuite) TestRepeatFailureHonoursCooldown() {
	s.record(s.at(0), "src-1", errors.New("timeout"))
	s.record(s.at(time.Minute), "src-1", errors.New("timeout"))

	s.Empty(s.due(5*time.Minute+59*time.Second), "still cooling down")
	s.Len(s.due(6*time.Minute), 1, "due exactly when cooldown elapses")
}

func (s *ServiceSuite) TestRetryCandidatesOldestFirstWithLimit() {
	s.record(s.at(2*time.Second), "late", errors.New("x"))
	s.record(s.at(0), "early", errors.New("x"))
	s.record(s.at(time.Second), "middle", errors.New("x"))

	entries, err := s.svc.RetryCandidates(s.at(time.Hour), 2)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal("early", entries[0].SourceID)
	s.Equal("middle", entries[1].SourceID)
}

// =============================================================================
// Retry outcomes
// =============================================================================

func (s *ServiceSuite) TestMarkRetrySuccessHashesNaturalKey() {
	s.record(s.at(0), "src-1", errors.New("timeout"))
	entry := s.due(5 * time.Minute)[0]

	s.Require().NoError(s.svc.MarkRetrySuccess(s.at(5*time.Minute), entry.ID, "NK-src-1"))

	stored, err := s.svc.Get(context.Background(), entry.ID)
	s.Require().NoError(err)
	s.True(stored.Synced)
	s.Equal(codec.HashNaturalKey("NK-src-1"), stored.EncryptedNaturalKey)
	s.Equal(2, stored.AttemptCount)
	s.Empty(s.due(time.Hour), "synced entries are never retried")

	n, err := s.svc.Count(context.Background())
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ServiceSuite) TestMarkRetryFailureRestartsCooldown() {
	s.record(s.at(0), "src-1", errors.New("timeout"))
	entry := s.due(5 * time.Minute)[0]

	s.Require().NoError(s.svc.MarkRetryFailure(s.at(5*time.Minute), entry.ID, errors.New("still down")))

	stored, err := s.svc.Get(context.Background(), entry.ID)
	s.Require().NoError(err)
	s.Equal(2, stored.AttemptCount)
	s.Equal("still down", stored.LastError)
	s.Empty(s.due(9 * time.Minute))
	s.Len(s.due(10*time.Minute), 1)
}

func (s *ServiceSuite) TestMarkUnknownEntry() {
	err := s.svc.MarkRetryFailure(s.at(0), uuid.New(), errors.New("x"))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// =============================================================================
// Clear and Count
// =============================================================================

func (s *ServiceSuite) TestClearRemovesOutstandingEntry() {
	s.record(s.at(0), "src-1", errors.New("x"))
	s.record(s.at(0), "src-2", errors.New("x"))

	n, err := s.svc.Count(context.Background())
	s.Require().NoError(err)
	s.Equal(2, n)

	s.Require().NoError(s.svc.Clear(context.Background(), "src-1"))
	s.Require().NoError(s.svc.Clear(context.Background(), "never-failed"))

	n, err = s.svc.Count(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
}
