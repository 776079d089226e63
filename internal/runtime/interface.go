// Package runtime provides the Runtime interface for toolchain stage execution backends.
package runtime

import (
	"context"
	"errors"
	"io"
)

// ErrEmptyCommand is returned by Start when no command is given.
var ErrEmptyCommand = errors.New("command is required")

// Runtime defines the interface for executing a single external process.
// Implementations include raw process execution and Docker.
type Runtime interface {
	// Start begins execution of a process and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a process.
type StartOptions struct {
	// Command is the executable followed by its arguments.
	Command []string
	// Dir is the host working directory (the job workspace).
	Dir string
	Env map[string]string

	// Image is only used by container runtimes.
	Image string

	// Stdout and Stderr receive the process output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// ExitResult contains the outcome of a finished process.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running process.
type Handle interface {
	// Wait blocks until the process completes and all output has been
	// written to the configured writers.
	// If ctx ends first the process is killed, ExitCode is -1 and ctx.Err() is returned.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the process.
	Stop(ctx context.Context) error
}
