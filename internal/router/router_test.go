package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/inaiurai/studio/internal/handlers"
	"github.com/inaiurai/studio/internal/metrics"
)

type stubAuth struct{ id uuid.UUID }

func (s stubAuth) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	if token != "good" {
		return uuid.Nil, errors.New("bad token")
	}
	return s.id, nil
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func newTestRouter(db Pinger) http.Handler {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.GenerationStarted("photo")
	return New(Deps{
		Auth:        stubAuth{id: uuid.New()},
		Generations: &handlers.GenerationHandler{},
		Images:      &handlers.ImageHandler{},
		Accounts:    &handlers.AccountHandler{},
		DB:          db,
		Gatherer:    reg,
	})
}

func TestV1RequiresAuth(t *testing.T) {
	r := newTestRouter(nil)
	for _, path := range []string{"/v1/generations", "/v1/account", "/v1/credit-ledger"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestKindCheckRunsBeforeHandler(t *testing.T) {
	r := newTestRouter(nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/generations", strings.NewReader(`{"kind":"hologram"}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	r := newTestRouter(nil)
	req := httptest.NewRequest(http.MethodPut, "/v1/trash", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(stubPinger{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newTestRouter(stubPinger{err: errors.New("down")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: expected 503, got %d", rec.Code)
	}
}

func TestMetricsExposed(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "studio_generations_started_total") {
		t.Errorf("metric missing from exposition")
	}
}
