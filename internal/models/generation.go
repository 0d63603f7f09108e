package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the type of media a generation produces.
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPhoto, KindVideo, KindAudio:
		return true
	}
	return false
}

// GenerationStatus is the processing state of a generation.
type GenerationStatus string

const (
	StatusQueued      GenerationStatus = "QUEUED"
	StatusRunning     GenerationStatus = "RUNNING"
	StatusDownloading GenerationStatus = "DOWNLOADING"
	StatusCompleted   GenerationStatus = "COMPLETED"
	StatusFailed      GenerationStatus = "FAILED"
)

var statusRank = map[GenerationStatus]int{
	StatusQueued:      0,
	StatusRunning:     1,
	StatusDownloading: 2,
	StatusCompleted:   3,
	StatusFailed:      3,
}

// IsTerminal reports whether no further transitions can leave s.
func (s GenerationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether next is a legal forward move from s.
// Progress states only move forward; COMPLETED requires DOWNLOADING,
// FAILED is reachable from any non-terminal state.
func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	if s.IsTerminal() {
		return false
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	switch next {
	case StatusFailed:
		return true
	case StatusCompleted:
		return s == StatusDownloading
	}
	n, ok := statusRank[next]
	return ok && n > cur
}

// PredecessorsOf lists the states from which next may be entered.
func PredecessorsOf(next GenerationStatus) []GenerationStatus {
	var out []GenerationStatus
	for _, s := range []GenerationStatus{StatusQueued, StatusRunning, StatusDownloading} {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// Lifecycle is the deletion state of a generation or image.
type Lifecycle string

const (
	LifecycleActive      Lifecycle = "active"
	LifecycleDiscarded   Lifecycle = "discarded"
	LifecycleSoftDeleted Lifecycle = "soft_deleted"
	LifecyclePurged      Lifecycle = "purged"
)

// GenerationParams are the decoded, validated request parameters.
type GenerationParams struct {
	Prompt          string `json:"prompt"`
	Count           int    `json:"count,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
}

type Generation struct {
	ID             uuid.UUID        `json:"id"`
	AccountID      uuid.UUID        `json:"account_id"`
	Kind           Kind             `json:"kind"`
	Status         GenerationStatus `json:"status"`
	Lifecycle      Lifecycle        `json:"lifecycle"`
	RequestedCount int              `json:"requested_count"`
	CompletedCount int              `json:"completed_count"`
	Params         json.RawMessage  `json:"params"`
	Cost           Credits          `json:"cost"`
	UnitCost       Credits          `json:"unit_cost"`
	MediaURLs      []string         `json:"media_urls"`
	ErrorMessage   *string          `json:"error,omitempty"`
	SoftDeletedAt  *time.Time       `json:"soft_deleted_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// GenerationView is the read-only projection clients poll.
type GenerationView struct {
	ID             uuid.UUID        `json:"id"`
	Kind           Kind             `json:"kind"`
	Status         GenerationStatus `json:"status"`
	Lifecycle      Lifecycle        `json:"lifecycle"`
	RequestedCount int              `json:"requested_count"`
	CompletedCount int              `json:"completed_count"`
	Media          []MediaItem      `json:"media"`
	Discarded      []MediaItem      `json:"discarded,omitempty"`
	Error          *string          `json:"error,omitempty"`
	SoftDeletedAt  *time.Time       `json:"soft_deleted_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// MediaItem is one output in a GenerationView. Discarded items carry the
// Watermarked marker and are listed separately from the live media.
type MediaItem struct {
	ImageID     *uuid.UUID `json:"image_id,omitempty"`
	Index       int        `json:"index"`
	URL         string     `json:"url"`
	Watermarked bool       `json:"watermarked,omitempty"`
}
