// Package server wires the runner's HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"templerunner/internal/auth"
	"templerunner/internal/logger"
	"templerunner/internal/server/handlers"
	"templerunner/internal/server/middleware"
)

// Config holds server settings.
type Config struct {
	Addr string
	// WriteTimeout bounds a whole /compile exchange. Jobs are cancelled
	// shortly before it passes so the envelope still reaches the client.
	WriteTimeout   time.Duration
	MaxSourceBytes int64

	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit      float64
	RateLimitBurst int
	// APIKeys, when non-empty, are required as bearer tokens on /compile.
	APIKeys []string

	// Ready backs /readyz.
	Ready handlers.ReadyFunc
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server for the runner API.
type Server struct {
	httpServer *http.Server
}

// New creates a new runner server.
func New(cfg Config, submitter handlers.Submitter, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Minute
	}

	h := handlers.New(submitter,
		handlers.WithReadyCheck(cfg.Ready),
		handlers.WithMaxSourceBytes(cfg.MaxSourceBytes),
		handlers.WithJobDeadline(jobDeadline(cfg.WriteTimeout)),
		handlers.WithLogger(log),
	)
	authMW := middleware.RequireAPIKey(auth.NewKeySet(cfg.APIKeys))
	rateMW := middleware.NewRateLimiter(middleware.WithLimit(cfg.RateLimit, cfg.RateLimitBurst)).Middleware()

	mux := http.NewServeMux()

	mux.Handle("POST /compile", rateMW(authMW(http.HandlerFunc(h.Compile))))

	// Probes
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      middleware.RequestID(log)(mux),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// maxResponseMargin caps the time reserved for encoding and writing the envelope.
const maxResponseMargin = 30 * time.Second

// jobDeadline leaves a tenth of the write timeout, up to maxResponseMargin,
// for writing the response.
func jobDeadline(writeTimeout time.Duration) time.Duration {
	margin := writeTimeout / 10
	if margin > maxResponseMargin {
		margin = maxResponseMargin
	}
	return writeTimeout - margin
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		// In-flight compiles are allowed to finish.
		shutDownCtx, cancel := context.WithTimeout(context.Background(), s.httpServer.WriteTimeout)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
