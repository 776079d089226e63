// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the runner.
package api

import "time"

// CompileRequest is the request body for POST /compile.
type CompileRequest struct {
	Code string `json:"code"`
}

// CompileResponse is the envelope returned for every compile job.
// Toolchain failures are reported here with Success=false, never as a
// transport error.
type CompileResponse struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Error   string `json:"error,omitempty"`

	// Timestamp is when the job started.
	Timestamp time.Time `json:"timestamp"`
	// Duration is the wall-clock time of the job in milliseconds.
	Duration int64 `json:"duration"`

	// Artifacts maps "<output root>/<relative path>" to file content.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	// Stages has one entry per stage that actually ran, in order.
	Stages []StageReport `json:"stages,omitempty"`
}

// StageReport summarizes a single toolchain stage.
type StageReport struct {
	Name     string `json:"name"`
	ExitCode int    `json:"exit_code"`
	Duration int64  `json:"duration"` // milliseconds
	TimedOut bool   `json:"timed_out,omitempty"`
}

// StatusResponse is returned by the status and probe endpoints.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
