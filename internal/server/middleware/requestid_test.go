package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"templerunner/internal/logger"
)

func TestRequestID_Generated(t *testing.T) {
	var seen string
	handler := RequestID(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if seen == "" {
		t.Fatal("expected request id in context")
	}
	if got := rr.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header %q does not match context id %q", got, seen)
	}
}

func TestRequestID_ReusesClientValue(t *testing.T) {
	var seen string
	handler := RequestID(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "abc-123" {
		t.Errorf("expected client request id, got %q", seen)
	}
}

func TestRequestID_RejectsOversizedValue(t *testing.T) {
	var seen string
	handler := RequestID(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
	}))

	long := strings.Repeat("a", maxRequestIDLen+1)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(RequestIDHeader, long)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen == long || seen == "" {
		t.Errorf("expected a generated id, got %q", seen)
	}
}
