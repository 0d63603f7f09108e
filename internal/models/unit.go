package models

import (
	"time"

	"github.com/google/uuid"
)

// Unit status values. A unit is one output of a batch, processed by one job.
const (
	UnitPending   = "pending"
	UnitSucceeded = "succeeded"
	UnitFailed    = "failed"
)

type Unit struct {
	GenerationID uuid.UUID `json:"generation_id"`
	Index        int       `json:"index"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UnitTally counts resolved units of one generation.
type UnitTally struct {
	Total     int
	Succeeded int
	Failed    int
}

// Resolved reports whether every unit has a terminal outcome.
func (t UnitTally) Resolved() bool { return t.Succeeded+t.Failed >= t.Total }

// Outcome is the terminal generation status implied by a fully resolved tally.
func (t UnitTally) Outcome() GenerationStatus {
	if t.Succeeded == t.Total {
		return StatusCompleted
	}
	return StatusFailed
}
