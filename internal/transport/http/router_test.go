package httptransport

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regsync/pkg/cyclecontext"
)

type stubRoutes struct {
	seen time.Time
}

func (p *stubRoutes) Register(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		p.seen = cyclecontext.Now(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})
}

func newTestRouter(p *stubRoutes) http.Handler {
	return NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, p)
}

func TestRouterMountsRegistrars(t *testing.T) {
	p := &stubRoutes{}
	router := newTestRouter(p)

	before := time.Now()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.False(t, p.seen.IsZero())
	assert.False(t, p.seen.Before(before), "request time must be stamped at request start")
}

func TestRouterServesMetrics(t *testing.T) {
	router := newTestRouter(&stubRoutes{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRouterRecoversPanics(t *testing.T) {
	router := newTestRouter(&stubRoutes{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouterUnknownRoute(t *testing.T) {
	router := newTestRouter(&stubRoutes{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
