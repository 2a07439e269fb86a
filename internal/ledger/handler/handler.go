package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"regsync/internal/ledger/models"
	"regsync/internal/ledger/retry"
	"regsync/pkg/platform/httputil"
)

// Service reads ledger entries.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.FailureEntry, error)
}

// Resyncer replays one entry outside the retry schedule.
type Resyncer interface {
	Resync(ctx context.Context, id uuid.UUID) error
}

// Handler wires ledger endpoints to the ledger service and the retrier.
type Handler struct {
	service  Service
	resyncer Resyncer
	logger   *slog.Logger
}

func New(service Service, resyncer Resyncer, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		resyncer: resyncer,
		logger:   logger,
	}
}

// Register mounts ledger endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ledger/{id}", h.HandleGet)
	r.Post("/ledger/{id}/resync", h.HandleResync)
}

// EntryResponse is a ledger entry without its encrypted columns.
type EntryResponse struct {
	ID                uuid.UUID  `json:"id"`
	SourceID          string     `json:"source_id"`
	OriginalTimestamp time.Time  `json:"original_timestamp"`
	AttemptCount      int        `json:"attempt_count"`
	LastError         string     `json:"last_error,omitempty"`
	LastAttemptAt     *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	Synced            bool       `json:"synced"`
}

func FromEntry(e *models.FailureEntry) EntryResponse {
	return EntryResponse{
		ID:                e.ID,
		SourceID:          e.SourceID,
		OriginalTimestamp: e.OriginalTimestamp,
		AttemptCount:      e.AttemptCount,
		LastError:         e.LastError,
		LastAttemptAt:     e.LastAttemptAt,
		CreatedAt:         e.CreatedAt,
		Synced:            e.Synced,
	}
}

// HandleGet handles GET /ledger/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Get(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read ledger entry", "ledger_id", id, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntry(entry))
}

// HandleResync handles POST /ledger/{id}/resync. A failed attempt is not an
// HTTP error: the response carries the entry with its updated last_error.
func (h *Handler) HandleResync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	err := h.resyncer.Resync(ctx, id)
	var attemptErr *retry.AttemptError
	if err != nil && !errors.As(err, &attemptErr) {
		h.logger.ErrorContext(ctx, "ledger resync failed", "ledger_id", id, "error", err)
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.service.Get(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read ledger entry after resync", "ledger_id", id, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "ledger resync requested",
		"ledger_id", id,
		"source_id", entry.SourceID,
		"synced", entry.Synced,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromEntry(entry))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "ledger id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
