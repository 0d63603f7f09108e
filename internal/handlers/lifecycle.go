package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/studio/internal/models"
	"github.com/inaiurai/studio/internal/services"
)

// Lifecycle is the discard/trash surface handlers need.
type Lifecycle interface {
	DiscardImage(ctx context.Context, accountID, imageID uuid.UUID) (*models.Image, error)
	RestoreImage(ctx context.Context, accountID, imageID uuid.UUID) (*models.Image, error)
	SoftDeleteGeneration(ctx context.Context, accountID, id uuid.UUID) error
	RestoreGeneration(ctx context.Context, accountID, id uuid.UUID) (*models.Generation, error)
	PermanentlyDelete(ctx context.Context, accountID, id uuid.UUID) (services.PurgeResult, error)
	EmptyTrash(ctx context.Context, accountID uuid.UUID) (services.PurgeResult, error)
}

// ImageHandler serves /v1/images and /v1/trash.
type ImageHandler struct {
	Lifecycle Lifecycle
	Logger    *slog.Logger
}

// Discard handles POST /v1/images/{id}/discard.
func (h *ImageHandler) Discard(w http.ResponseWriter, r *http.Request) {
	h.imageOp(w, r, "discard image", h.Lifecycle.DiscardImage)
}

// Restore handles POST /v1/images/{id}/restore.
func (h *ImageHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.imageOp(w, r, "restore image", h.Lifecycle.RestoreImage)
}

func (h *ImageHandler) imageOp(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uuid.UUID, uuid.UUID) (*models.Image, error)) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	img, err := fn(r.Context(), acct, id)
	if err != nil {
		writeServiceError(w, h.Logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// EmptyTrash handles DELETE /v1/trash.
func (h *ImageHandler) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	res, err := h.Lifecycle.EmptyTrash(r.Context(), acct)
	if err != nil {
		writeServiceError(w, h.Logger, "empty trash", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
