package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/studio/internal/models"
)

func TestWebhookNotifier_PostsEvent(t *testing.T) {
	got := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- e
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	genID := uuid.New()
	n.Notify(context.Background(), Event{Type: EventGenerationCompleted, AccountID: uuid.New(), GenerationID: &genID, Status: models.StatusCompleted})

	select {
	case e := <-got:
		if e.Type != EventGenerationCompleted || e.GenerationID == nil || *e.GenerationID != genID {
			t.Errorf("unexpected event %+v", e)
		}
		if e.OccurredAt.IsZero() {
			t.Error("occurred_at not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestWebhookNotifier_DoesNotBlockOnCanceledContext(t *testing.T) {
	called := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- struct{}{}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewWebhookNotifier(srv.URL, nil).Notify(ctx, Event{Type: EventLowBalance, AccountID: uuid.New()})

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery should survive caller cancellation")
	}
}
