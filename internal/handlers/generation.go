package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/inaiurai/studio/internal/models"
)

// Generations is the generation service surface the handler needs.
type Generations interface {
	Start(ctx context.Context, accountID uuid.UUID, kind models.Kind, raw json.RawMessage) (*models.Generation, error)
	Status(ctx context.Context, accountID, id uuid.UUID) (*models.GenerationView, error)
	List(ctx context.Context, accountID uuid.UUID, view string, limit int) ([]*models.GenerationView, error)
}

// GenerationHandler serves /v1/generations endpoints.
type GenerationHandler struct {
	Generations Generations
	Lifecycle   Lifecycle
	Logger      *slog.Logger
}

type startRequest struct {
	Kind   models.Kind     `json:"kind"`
	Params json.RawMessage `json:"params"`
}

type startResponse struct {
	ID             uuid.UUID               `json:"id"`
	Kind           models.Kind             `json:"kind"`
	Status         models.GenerationStatus `json:"status"`
	RequestedCount int                     `json:"requested_count"`
	Cost           models.Credits          `json:"cost"`
}

// Start handles POST /v1/generations.
// Auth -> KindCheck (via middleware) -> validate + reserve + enqueue -> 202.
func (h *GenerationHandler) Start(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body")
		return
	}
	gen, err := h.Generations.Start(r.Context(), acct, req.Kind, req.Params)
	if err != nil {
		writeServiceError(w, h.Logger, "start generation", err)
		return
	}
	w.Header().Set("Location", "/v1/generations/"+gen.ID.String())
	writeJSON(w, http.StatusAccepted, startResponse{
		ID:             gen.ID,
		Kind:           gen.Kind,
		Status:         gen.Status,
		RequestedCount: gen.RequestedCount,
		Cost:           gen.Cost,
	})
}

// Get handles GET /v1/generations/{id}.
func (h *GenerationHandler) Get(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.Generations.Status(r.Context(), acct, id)
	if err != nil {
		writeServiceError(w, h.Logger, "get generation", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// List handles GET /v1/generations?view=live|trash&limit=N.
func (h *GenerationHandler) List(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := h.Generations.List(r.Context(), acct, r.URL.Query().Get("view"), limit)
	if err != nil {
		writeServiceError(w, h.Logger, "list generations", err)
		return
	}
	if list == nil {
		list = []*models.GenerationView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"generations": list})
}

// SoftDelete handles DELETE /v1/generations/{id}.
func (h *GenerationHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Lifecycle.SoftDeleteGeneration(r.Context(), acct, id); err != nil {
		writeServiceError(w, h.Logger, "soft delete generation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore handles POST /v1/generations/{id}/restore.
func (h *GenerationHandler) Restore(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.Lifecycle.RestoreGeneration(r.Context(), acct, id); err != nil {
		writeServiceError(w, h.Logger, "restore generation", err)
		return
	}
	v, err := h.Generations.Status(r.Context(), acct, id)
	if err != nil {
		writeServiceError(w, h.Logger, "get generation", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// PermanentlyDelete handles DELETE /v1/generations/{id}/permanent.
func (h *GenerationHandler) PermanentlyDelete(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.Lifecycle.PermanentlyDelete(r.Context(), acct, id)
	if err != nil {
		writeServiceError(w, h.Logger, "permanently delete generation", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
