package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger entry_type values.
const (
	CreditEntryReserve           = "reserve"
	CreditEntryRestoreFee        = "restore_fee"
	CreditEntryRefundDiscard     = "refund_discard"
	CreditEntryRefundUnitFailure = "refund_unit_failure"
)

type CreditEntry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	GenerationID *uuid.UUID `json:"generation_id,omitempty"`
	ImageID      *uuid.UUID `json:"image_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	Amount       Credits    `json:"amount"`
	BalanceAfter Credits    `json:"balance_after"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsDebit reports whether the entry took credits out of the account.
func (e *CreditEntry) IsDebit() bool {
	return e.EntryType == CreditEntryReserve || e.EntryType == CreditEntryRestoreFee
}
