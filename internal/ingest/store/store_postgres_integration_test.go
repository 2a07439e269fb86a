//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"regsync/internal/ingest/models"
	"regsync/internal/ingest/store"
	"regsync/pkg/platform/sentinel"
	"regsync/pkg/testutil/containers"
)

const sourceTable = "registration_events"

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	base     time.Time
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
	s.Require().NoError(s.postgres.CreateSourceTable(context.Background(), sourceTable))
	s.store = store.NewPostgres(s.postgres.DB, sourceTable)
	s.base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), sourceTable, "sync_watermarks")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) insert(id string, ts time.Time) {
	_, err := s.postgres.DB.Exec(
		`INSERT INTO registration_events (id, event_time, natural_key, payload) VALUES ($1, $2, $3, $4)`,
		id, ts, "nk-"+id, `{"familyName":"Bell"}`,
	)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestFetchRowsAfterUsesTupleOrder() {
	ctx := context.Background()
	s.insert("b", s.base)
	s.insert("a", s.base)
	s.insert("c", s.base.Add(time.Second))
	s.insert("Z", s.base)

	rows, err := s.store.FetchRowsAfter(ctx, models.Position{}, 10)
	s.Require().NoError(err)
	s.Require().Len(rows, 4)
	s.Equal([]string{"Z", "a", "b", "c"}, ids(rows), "byte order: upper case sorts first")

	rows, err = s.store.FetchRowsAfter(ctx, models.Position{Timestamp: s.base, RowID: "a"}, 10)
	s.Require().NoError(err)
	s.Equal([]string{"b", "c"}, ids(rows))
	s.Equal("nk-b", rows[0].NaturalKeyRef)
	s.JSONEq(`{"familyName":"Bell"}`, string(rows[0].Payload))

	rows, err = s.store.FetchRowsAfter(ctx, models.Position{}, 2)
	s.Require().NoError(err)
	s.Len(rows, 2)
}

func (s *PostgresStoreSuite) TestWatermarkLifecycle() {
	ctx := context.Background()

	wm, err := s.store.ReadWatermark(ctx, sourceTable)
	s.Require().NoError(err)
	s.Nil(wm)

	first := models.Position{Timestamp: s.base, RowID: "a"}
	s.Require().NoError(s.store.AdvanceWatermark(ctx, sourceTable, first, 3))

	second := models.Position{Timestamp: s.base, RowID: "b"}
	s.Require().NoError(s.store.AdvanceWatermark(ctx, sourceTable, second, 2))

	wm, err = s.store.ReadWatermark(ctx, sourceTable)
	s.Require().NoError(err)
	s.Require().NotNil(wm)
	s.Equal(second.RowID, wm.LastPosition.RowID)
	s.True(second.Timestamp.Equal(wm.LastPosition.Timestamp))
	s.Equal(int64(5), wm.RecordsProcessed)
	s.Nil(wm.LastError)

	s.Run("refuses to move backwards", func() {
		err := s.store.AdvanceWatermark(ctx, sourceTable, first, 1)
		s.ErrorIs(err, sentinel.ErrInvalidState)

		wm, err := s.store.ReadWatermark(ctx, sourceTable)
		s.Require().NoError(err)
		s.Equal("b", wm.LastPosition.RowID)
		s.Equal(int64(5), wm.RecordsProcessed)
	})

	s.Run("records and clears last error", func() {
		s.Require().NoError(s.store.RecordWatermarkError(ctx, sourceTable, "ledger down"))
		wm, err := s.store.ReadWatermark(ctx, sourceTable)
		s.Require().NoError(err)
		s.Require().NotNil(wm.LastError)
		s.Equal("ledger down", *wm.LastError)

		next := models.Position{Timestamp: s.base.Add(time.Minute), RowID: "c"}
		s.Require().NoError(s.store.AdvanceWatermark(ctx, sourceTable, next, 1))
		wm, err = s.store.ReadWatermark(ctx, sourceTable)
		s.Require().NoError(err)
		s.Nil(wm.LastError)
	})
}

func ids(rows []models.SourceRecord) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}
