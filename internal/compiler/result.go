package compiler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"templerunner/internal/artifact"
	"templerunner/internal/pipeline"
	"templerunner/pkg/api"
)

// Outcome is everything known about a job once its pipeline has finished.
type Outcome struct {
	JobID     string
	Start     time.Time
	Requested int
	Results   []pipeline.StageResult
	Artifacts artifact.Set

	// Err is an infrastructure failure outside the stages themselves,
	// e.g. workspace creation or artifact collection.
	Err error
}

// Succeeded reports whether every requested stage ran and exited zero.
func (o Outcome) Succeeded() bool {
	if o.Err != nil || len(o.Results) != o.Requested {
		return false
	}
	for _, r := range o.Results {
		if r.Failed() {
			return false
		}
	}
	return true
}

// Assemble builds the response envelope. Stdout and stderr are the
// concatenation of every stage that ran, in order. Artifacts are attached on
// success, and on failure when partial output exists.
func Assemble(o Outcome, now time.Time) api.CompileResponse {
	var stdout, stderr strings.Builder
	stages := make([]api.StageReport, 0, len(o.Results))
	for _, r := range o.Results {
		stdout.WriteString(r.Stdout)
		stderr.WriteString(r.Stderr)
		stages = append(stages, api.StageReport{
			Name:     r.Name,
			ExitCode: r.ExitCode,
			Duration: r.Duration.Milliseconds(),
			TimedOut: r.TimedOut(),
		})
	}

	resp := api.CompileResponse{
		JobID:     o.JobID,
		Success:   o.Succeeded(),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Timestamp: o.Start,
		Duration:  now.Sub(o.Start).Milliseconds(),
	}
	if len(stages) > 0 {
		resp.Stages = stages
	}
	if !resp.Success {
		resp.Error = errorMessage(o)
	}
	if resp.Success || o.Artifacts.Len() > 0 {
		resp.Artifacts = o.Artifacts.Files
	}
	return resp
}

func errorMessage(o Outcome) string {
	if o.Err != nil {
		return o.Err.Error()
	}
	for _, r := range o.Results {
		if !r.Failed() {
			continue
		}
		var te *pipeline.TimeoutError
		if errors.As(r.Err, &te) {
			return te.Error()
		}
		var ee *pipeline.ExecutionError
		if errors.As(r.Err, &ee) && ee.Err == nil {
			if line := firstLine(r.Stderr); line != "" {
				return fmt.Sprintf("%s: %s", ee.Error(), line)
			}
		}
		return r.Err.Error()
	}
	return "pipeline did not complete"
}

// firstLine returns the first non-blank line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
