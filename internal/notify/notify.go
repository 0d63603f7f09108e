package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/studio/internal/models"
)

// Event types.
const (
	EventGenerationCompleted = "generation.completed"
	EventGenerationFailed    = "generation.failed"
	EventLowBalance          = "account.low_balance"
)

type Event struct {
	Type         string                  `json:"type"`
	AccountID    uuid.UUID               `json:"account_id"`
	GenerationID *uuid.UUID              `json:"generation_id,omitempty"`
	Status       models.GenerationStatus `json:"status,omitempty"`
	Balance      *models.Credits         `json:"balance,omitempty"`
	OccurredAt   time.Time               `json:"occurred_at"`
}

// Notifier is fire-and-forget. Implementations must not block the caller and
// have no error to return, so a delivery problem can never undo committed state.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier writes events to the log. Used when no webhook is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, e Event) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "type", e.Type, "account_id", e.AccountID, "generation_id", e.GenerationID, "status", e.Status)
}

// WebhookNotifier POSTs each event as JSON from a background goroutine.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	// Detach from the request so delivery outlives it.
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := n.send(ctx, e); err != nil {
			n.logger.Warn("notification delivery failed", "type", e.Type, "account_id", e.AccountID, "error", err)
		}
	}()
}

func (n *WebhookNotifier) send(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
