package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithRequestID_And_RequestIDFromContext(t *testing.T) {
	ctx := context.Background()
	requestID := "req-12345"

	// Initially empty
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("RequestIDFromContext() on empty ctx = %v, want empty", got)
	}

	ctx = WithRequestID(ctx, requestID)
	if got := RequestIDFromContext(ctx); got != requestID {
		t.Errorf("RequestIDFromContext() = %v, want %v", got, requestID)
	}
}

func TestWithJobID_And_JobIDFromContext(t *testing.T) {
	ctx := context.Background()
	if got := JobIDFromContext(ctx); got != "" {
		t.Errorf("JobIDFromContext() on empty ctx = %v, want empty", got)
	}

	ctx = WithJobID(ctx, "job-1")
	if got := JobIDFromContext(ctx); got != "job-1" {
		t.Errorf("JobIDFromContext() = %v, want job-1", got)
	}
}

func TestFromContext_AttachesFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf)

	ctx := WithJobID(WithRequestID(context.Background(), "req-67890"), "job-42")
	FromContext(ctx, base).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["request_id"] != "req-67890" {
		t.Errorf("expected request_id req-67890, got %v", entry["request_id"])
	}
	if entry["job_id"] != "job-42" {
		t.Errorf("expected job_id job-42, got %v", entry["job_id"])
	}
}

func TestFromContext_WithoutFields(t *testing.T) {
	base := New()
	if FromContext(context.Background(), base) != base {
		t.Error("FromContext() without fields should return the base logger")
	}
}
