package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

type stubValidator struct {
	id  uuid.UUID
	err error
	got string
}

func (s *stubValidator) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	s.got = token
	return s.id, s.err
}

// okHandler writes 200 and the account id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, _ := AccountIDFromCtx(r.Context())
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(id.String()))
})

func TestBearerAuth_ValidToken(t *testing.T) {
	v := &stubValidator{id: uuid.New()}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	rec := httptest.NewRecorder()
	BearerAuth(v)(okHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != v.id.String() {
		t.Errorf("account id in ctx = %q, want %s", rec.Body.String(), v.id)
	}
	if v.got != "tok-123" {
		t.Errorf("validated token %q", v.got)
	}
}

func TestBearerAuth_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
	}{
		{"missing header", "", nil},
		{"wrong scheme", "Basic abc", nil},
		{"invalid token", "Bearer bad", errors.New("bad signature")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &stubValidator{id: uuid.New(), err: tc.err}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			BearerAuth(v)(okHandler).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"error":"unauthorized"`) {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestAccountIDFromCtx_Unset(t *testing.T) {
	if _, ok := AccountIDFromCtx(context.Background()); ok {
		t.Error("expected no account id")
	}
}
