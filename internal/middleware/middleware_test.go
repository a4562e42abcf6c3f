package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"roomwatch/internal/middleware"
)

func TestLogging_RequestID(t *testing.T) {
	var seen string
	h := middleware.Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(middleware.RequestIDHeader)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if seen == "" || rec.Header().Get(middleware.RequestIDHeader) != seen {
		t.Errorf("request id %q not propagated, response header %q", seen, rec.Header().Get(middleware.RequestIDHeader))
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(middleware.RequestIDHeader); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}

func TestRecovery(t *testing.T) {
	h := middleware.Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/telemetry", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
