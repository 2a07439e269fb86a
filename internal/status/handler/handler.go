package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"regsync/internal/status"
	"regsync/pkg/platform/httputil"
)

// Service defines the status operations served over HTTP.
type Service interface {
	Stats(ctx context.Context) (*status.Stats, error)
	Health(ctx context.Context) status.Health
}

// Handler wires the status endpoints to the status service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts status endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Get("/stats", h.HandleStats)
}

// HandleHealth answers 200 when every dependency check passes, 503 otherwise.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.service.Health(r.Context())
	code := http.StatusOK
	if !health.Healthy() {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, health)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read sync stats", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
