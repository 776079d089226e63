package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"templerunner/internal/logger"
	"templerunner/pkg/api"
)

// Compile handles POST /compile.
// Every pipeline outcome, including toolchain failures, is returned as a 200
// envelope; only malformed requests get an error status.
func (h *Handlers) Compile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSourceBytes)

	var req api.CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.httpError(w, "Source too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Code) == "" {
		h.httpError(w, "No code provided", http.StatusBadRequest)
		return
	}

	if h.jobDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.jobDeadline)
		defer cancel()
	}

	resp := h.submitter.Submit(ctx, req.Code)
	if !resp.Success {
		log.Info("compile job failed", "job_id", resp.JobID, "error", resp.Error)
	}
	h.respondJson(w, http.StatusOK, resp)
}
