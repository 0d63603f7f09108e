package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/inaiurai/studio/internal/models"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, 5xx, rate limits, open breaker.
	ErrTransient = errors.New("provider transient failure")
	// ErrFatal marks failures that will not succeed on retry: bad input, rejected content.
	ErrFatal = errors.New("provider fatal failure")
)

// Poll states.
const (
	StatePending   = "pending"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Result is one poll of a submitted job. When State is succeeded the asset is
// either inline in Data or downloadable from AssetURL.
type Result struct {
	State       string
	AssetURL    string
	Data        []byte
	ContentType string
	Error       string
	Retryable   bool
}

// Provider is the external inference service. It is unreliable and slow;
// callers own retry.
type Provider interface {
	Submit(ctx context.Context, kind models.Kind, params json.RawMessage) (string, error)
	Poll(ctx context.Context, handle string) (*Result, error)
	Fetch(ctx context.Context, assetURL string) ([]byte, string, error)
}

// IsFatal reports whether err should stop retries.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
