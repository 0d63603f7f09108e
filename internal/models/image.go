package models

import (
	"time"

	"github.com/google/uuid"
)

// Image is one generated photo of a photo generation.
type Image struct {
	ID           uuid.UUID  `json:"id"`
	GenerationID uuid.UUID  `json:"generation_id"`
	Index        int        `json:"index"`
	MediaURL     string     `json:"media_url"`
	StorageKey   string     `json:"-"`
	Lifecycle    Lifecycle  `json:"lifecycle"`
	DiscardedAt  *time.Time `json:"discarded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
