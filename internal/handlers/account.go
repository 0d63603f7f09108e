package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/inaiurai/studio/internal/models"
)

type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type CreditLedgerReader interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditEntry, error)
}

// AccountHandler serves the account and credit ledger reads.
type AccountHandler struct {
	Accounts AccountReader
	Credits  CreditLedgerReader
	Logger   *slog.Logger
}

// GET /v1/account
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	acc, err := h.Accounts.GetByID(r.Context(), acct)
	if err != nil {
		writeServiceError(w, h.Logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GET /v1/credit-ledger
func (h *AccountHandler) ListCreditLedger(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.Credits.ListByAccountID(r.Context(), acct, limit)
	if err != nil {
		writeServiceError(w, h.Logger, "list credit ledger", err)
		return
	}
	if entries == nil {
		entries = []*models.CreditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
