package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/patient-sheets/internal/selection"
)

func TestRequireSelection(t *testing.T) {
	sel := selection.NewSelector(selection.NewMemoryStore())
	called := false
	h := RequireSelection(sel)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patients", nil))
	if rec.Code != http.StatusConflict || called {
		t.Fatalf("expected 409 without selection, got %d", rec.Code)
	}

	if err := sel.Set(context.Background(), "S1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patients", nil))
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("expected pass-through after selection, got %d", rec.Code)
	}
}
