package pipeline

import (
	"fmt"
	"time"
)

// ExecutionError reports a stage that could not be launched or exited non-zero.
type ExecutionError struct {
	Stage    string
	ExitCode int
	// Err is the launch or wait error. Nil for a plain non-zero exit.
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage failed (exit %d)", e.Stage, e.ExitCode)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError reports a stage that was terminated after exceeding its time budget.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s stage timed out after %s", e.Stage, e.Timeout)
}
