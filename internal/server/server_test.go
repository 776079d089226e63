package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"templerunner/pkg/api"
)

type stubSubmitter struct{}

func (stubSubmitter) Submit(ctx context.Context, source string) api.CompileResponse {
	return api.CompileResponse{JobID: "job-1", Success: true, Stdout: source}
}

func TestServer_Routes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	srv := New(Config{Addr: ":0", Metrics: metrics}, stubSubmitter{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		body       []byte
		wantStatus int
	}{
		{"status", http.MethodGet, "/status", nil, http.StatusOK},
		{"healthz", http.MethodGet, "/healthz", nil, http.StatusOK},
		{"readyz", http.MethodGet, "/readyz", nil, http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", nil, http.StatusOK},
		{"compile", http.MethodPost, "/compile", []byte(`{"code":"fn main() {}"}`), http.StatusOK},
		{"compile wrong method", http.MethodGet, "/compile", nil, http.StatusMethodNotAllowed},
		{"unknown", http.MethodGet, "/nope", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, bytes.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("got status %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}

func TestServer_CompileRequiresKeyWhenConfigured(t *testing.T) {
	srv := New(Config{APIKeys: []string{"k1"}}, stubSubmitter{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := []byte(`{"code":"fn main() {}"}`)

	resp, err := http.Post(ts.URL+"/compile", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/compile", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer k1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var out api.CompileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.JobID != "job-1" || !out.Success {
		t.Errorf("unexpected envelope %+v", out)
	}

	// Probes stay open.
	resp, err = http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status probe got %d, want 200", resp.StatusCode)
	}
}

// slowSubmitter runs until its context ends or hold passes.
type slowSubmitter struct {
	hold   time.Duration
	jobErr chan error
}

func (s slowSubmitter) Submit(ctx context.Context, source string) api.CompileResponse {
	select {
	case <-ctx.Done():
	case <-time.After(s.hold):
	}
	s.jobErr <- ctx.Err()
	if err := ctx.Err(); err != nil {
		return api.CompileResponse{JobID: "job-1", Error: "cancelled: " + err.Error()}
	}
	return api.CompileResponse{JobID: "job-1", Success: true}
}

func TestServer_JobOutlivingWriteTimeoutStillGetsEnvelope(t *testing.T) {
	sub := slowSubmitter{hold: 3 * time.Second, jobErr: make(chan error, 1)}
	srv := New(Config{Addr: ":0", WriteTimeout: time.Second}, sub, nil)

	ts := httptest.NewUnstartedServer(srv.Handler())
	ts.Config.WriteTimeout = srv.httpServer.WriteTimeout
	ts.Start()
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/compile", "application/json", strings.NewReader(`{"code":"fn main() {}"}`))
	if err != nil {
		t.Fatalf("expected an envelope, got transport error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var env api.CompileResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Success || !strings.Contains(env.Error, "deadline exceeded") {
		t.Errorf("unexpected envelope %+v", env)
	}

	select {
	case err := <-sub.jobErr:
		if err == nil {
			t.Error("job context was never cancelled")
		}
	case <-time.After(time.Second):
		t.Fatal("submitter did not return")
	}
}

func TestJobDeadline(t *testing.T) {
	tests := []struct {
		writeTimeout time.Duration
		want         time.Duration
	}{
		{400 * time.Millisecond, 360 * time.Millisecond},
		{time.Minute, 54 * time.Second},
		{15 * time.Minute, 15*time.Minute - 30*time.Second},
	}
	for _, tt := range tests {
		if got := jobDeadline(tt.writeTimeout); got != tt.want {
			t.Errorf("jobDeadline(%v) = %v, want %v", tt.writeTimeout, got, tt.want)
		}
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, stubSubmitter{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
