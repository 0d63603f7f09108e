package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/inaiurai/studio/internal/models"
)

const ctxKindKey contextKey = "kind"

// MaxBodyBytes caps generation request bodies.
const MaxBodyBytes = 1 << 20

// KindFromCtx returns the kind parsed by KindCheck, or "" if not set.
func KindFromCtx(ctx context.Context) models.Kind {
	k, _ := ctx.Value(ctxKindKey).(models.Kind)
	return k
}

// KindCheck rejects generation requests for unknown kinds before any
// pricing or ledger work. It reads the body to extract "kind", then
// replaces r.Body so downstream handlers can re-read it.
func KindCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		r.Body.Close()
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "validation_failed", "request body too large or unreadable")
			return
		}
		// Restore body for the handler.
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		var peek struct {
			Kind models.Kind `json:"kind"`
		}
		if err := json.Unmarshal(bodyBytes, &peek); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body")
			return
		}
		if !peek.Kind.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", fmt.Sprintf("kind %q is not supported", peek.Kind))
			return
		}

		ctx := context.WithValue(r.Context(), ctxKindKey, peek.Kind)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
