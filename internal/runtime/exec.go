// Package runtime provides the Runtime interface for toolchain stage execution backends.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// stopGrace is how long Stop waits after SIGTERM before killing the process group.
const stopGrace = 2 * time.Second

// ExecRuntime implements the Runtime interface using raw OS processes.
// Each process runs in its own process group so that a kill also reaps any
// children the toolchain spawns.
type ExecRuntime struct {
	// WaitDelay bounds how long Wait keeps reading output after the process exits.
	WaitDelay time.Duration
}

// ExecHandle represents a running OS process.
type ExecHandle struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

// NewExecRuntime creates a new process-based runtime.
func NewExecRuntime() *ExecRuntime {
	return &ExecRuntime{WaitDelay: 5 * time.Second}
}

// Start implements Runtime.Start using os/exec.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = mergeEnv(os.Environ(), opts.Env)
	cmd.Stdout = writerOrDiscard(opts.Stdout)
	cmd.Stderr = writerOrDiscard(opts.Stderr)
	cmd.WaitDelay = e.WaitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", opts.Command[0], err)
	}

	h := &ExecHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// Wait implements Handle.Wait.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
		return h.result(), nil
	case <-ctx.Done():
		killProcessGroup(h.cmd)
		<-h.done
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL if the
// process is still alive after a grace period or when ctx ends.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	terminateProcessGroup(h.cmd)

	select {
	case <-h.done:
	case <-time.After(stopGrace):
		killProcessGroup(h.cmd)
		<-h.done
	case <-ctx.Done():
		killProcessGroup(h.cmd)
		<-h.done
	}
	return nil
}

func (h *ExecHandle) result() ExitResult {
	if h.waitErr == nil {
		return ExitResult{ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(h.waitErr, &exitErr) {
		code := exitErr.ExitCode()
		if code == -1 {
			// Terminated by a signal.
			return ExitResult{ExitCode: -1, Error: h.waitErr}
		}
		return ExitResult{ExitCode: code}
	}
	return ExitResult{ExitCode: -1, Error: h.waitErr}
}

func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
