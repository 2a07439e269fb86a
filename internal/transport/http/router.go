package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"regsync/internal/platform/metrics"
	"regsync/pkg/cyclecontext"
)

// Registrar mounts a context's endpoints on the router.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires the ops endpoints: every registrar's routes plus /metrics.
// m may be nil.
func NewRouter(logger *slog.Logger, m *metrics.Metrics, registrars ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(RequestTime)
	r.Use(RequestLogger(logger, m))

	for _, reg := range registrars {
		reg.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// RequestTime stamps one "now" per request so that ledger writes triggered by
// the request agree on the time.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := cyclecontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs each request and records it in m when m is non-nil.
// Routes are labelled by their chi pattern to keep metric cardinality bounded.
func RequestLogger(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			if m != nil {
				m.ObserveRequest(r.Method, route, status, elapsed)
			}
			if route == "/metrics" || route == "/healthz" {
				return
			}
			logger.InfoContext(r.Context(), "http request",
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"route", route,
				"status", status,
				"duration_ms", elapsed.Milliseconds(),
			)
		})
	}
}
