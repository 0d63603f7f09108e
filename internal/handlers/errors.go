package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/studio/internal/middleware"
	"github.com/inaiurai/studio/internal/models"
	"github.com/inaiurai/studio/internal/services"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// writeServiceError maps domain errors to status codes. Anything unmapped
// is logged and reported as a 500 without detail.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, models.ErrLastImageProtected):
		writeError(w, http.StatusConflict, "last_image_protected", err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, models.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, models.ErrTransactionConflict):
		writeError(w, http.StatusServiceUnavailable, "conflict", "please retry")
	default:
		log.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// accountID returns the authenticated account, writing a 401 when absent.
func accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	return id, ok
}

// pathID parses the {id} path segment, writing a 404 when malformed.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return uuid.Nil, false
	}
	return id, true
}
