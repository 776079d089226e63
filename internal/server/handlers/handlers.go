// Package handlers contains HTTP handlers for the runner API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"templerunner/internal/logger"
	"templerunner/pkg/api"
)

// Submitter runs a compile job to completion.
type Submitter interface {
	Submit(ctx context.Context, source string) api.CompileResponse
}

// ReadyFunc reports whether the runner can accept jobs.
type ReadyFunc func(ctx context.Context) error

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	submitter      Submitter
	ready          ReadyFunc
	maxSourceBytes int64
	jobDeadline    time.Duration
	logger         *slog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithReadyCheck sets the readiness check used by /readyz.
func WithReadyCheck(fn ReadyFunc) Option {
	return func(h *Handlers) { h.ready = fn }
}

// WithMaxSourceBytes caps the request body of /compile.
func WithMaxSourceBytes(n int64) Option {
	return func(h *Handlers) { h.maxSourceBytes = n }
}

// WithJobDeadline bounds how long /compile waits for a job. The envelope
// must be written before the server's write timeout closes the connection,
// so d should be shorter than that timeout. Zero means no bound.
func WithJobDeadline(d time.Duration) Option {
	return func(h *Handlers) { h.jobDeadline = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handlers) { h.logger = log }
}

// New creates a new Handlers instance.
func New(s Submitter, opts ...Option) *Handlers {
	h := &Handlers{
		submitter:      s,
		maxSourceBytes: 1 << 20,
		logger:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
