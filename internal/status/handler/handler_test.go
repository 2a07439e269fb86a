package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"regsync/internal/status"
	"regsync/internal/status/handler/mocks"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type StatusHandlerSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *StatusHandlerSuite) SetupSuite() {
	s.ctx = context.Background()
}

func TestStatusHandlerSuite(t *testing.T) {
	suite.Run(t, new(StatusHandlerSuite))
}

func newTestRouter(t *testing.T) (http.Handler, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := New(mockService, logger)
	r := chi.NewRouter()
	handler.Register(r)
	return r, mockService
}

func (s *StatusHandlerSuite) TestHealthz() {
	s.Run("healthy", func() {
		router, mockService := newTestRouter(s.T())
		mockService.EXPECT().Health(gomock.Any()).Return(status.Health{
			Status: status.StatusOK,
			Checks: map[string]string{"database": status.StatusOK},
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(s.T(), http.StatusOK, w.Code)
		var body status.Health
		require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(s.T(), status.StatusOK, body.Checks["database"])
	})

	s.Run("degraded answers 503", func() {
		router, mockService := newTestRouter(s.T())
		mockService.EXPECT().Health(gomock.Any()).Return(status.Health{
			Status: status.StatusDegraded,
			Checks: map[string]string{"redis": "dial tcp: refused"},
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(s.T(), http.StatusServiceUnavailable, w.Code)
	})
}

func (s *StatusHandlerSuite) TestStats() {
	s.Run("returns snapshot", func() {
		router, mockService := newTestRouter(s.T())
		mockService.EXPECT().Stats(gomock.Any()).Return(&status.Stats{
			Table:               "registration_events",
			LastRowID:           "row-7",
			RecordsProcessed:    7,
			OutstandingFailures: 2,
		}, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

		assert.Equal(s.T(), http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(s.T(), "registration_events", body["table"])
		assert.Equal(s.T(), "row-7", body["last_row_id"])
		assert.EqualValues(s.T(), 2, body["outstanding_failures"])
	})

	s.Run("storage failure is an internal error", func() {
		router, mockService := newTestRouter(s.T())
		mockService.EXPECT().Stats(gomock.Any()).Return(nil, errors.New("db down"))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

		assert.Equal(s.T(), http.StatusInternalServerError, w.Code)
		assert.NotContains(s.T(), w.Body.String(), "db down")
	})

	s.Run("wrong method is rejected", func() {
		router, _ := newTestRouter(s.T())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/stats", nil))
		assert.Equal(s.T(), http.StatusMethodNotAllowed, w.Code)
	})
}
