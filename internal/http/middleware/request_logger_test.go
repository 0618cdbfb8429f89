package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wolfman30/patient-sheets/pkg/logging"
)

func TestRequestLoggerSetsIDAndStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/patients?q=secret", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line); err != nil {
		t.Fatalf("decode log: %v (%q)", err, buf.String())
	}
	if line["status"] != float64(http.StatusTeapot) || line["path"] != "/api/patients" {
		t.Fatalf("unexpected log line %v", line)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Fatal("query string must not be logged")
	}
}

func TestRequestLoggerKeepsIncomingID(t *testing.T) {
	h := RequestLogger(logging.NewWithWriter(&bytes.Buffer{}, "info"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("expected incoming id echoed, got %q", got)
	}
}
