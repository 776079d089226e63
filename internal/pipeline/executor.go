// Package pipeline runs an ordered list of toolchain stages against a workspace.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"templerunner/internal/logger"
	"templerunner/internal/runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultStageTimeout applies to stages that do not set their own.
	DefaultStageTimeout = 5 * time.Minute

	// stopTimeout bounds cleanup of a process after its stage timed out.
	stopTimeout = 10 * time.Second
)

// StageSpec describes one external process invocation.
type StageSpec struct {
	Name    string
	Command []string
	Env     map[string]string
	// Timeout bounds the stage. Zero means the executor default.
	Timeout time.Duration
}

// StageResult is the captured outcome of one stage.
type StageResult struct {
	Name      string
	Command   []string
	Stdout    string
	Stderr    string
	ExitCode  int
	StartedAt time.Time
	Duration  time.Duration

	// Err is nil on success, otherwise *ExecutionError or *TimeoutError.
	Err error
}

// Failed reports whether the stage did not complete with exit code zero.
func (r StageResult) Failed() bool {
	return r.Err != nil
}

// TimedOut reports whether the stage was terminated for exceeding its timeout.
func (r StageResult) TimedOut() bool {
	var te *TimeoutError
	return errors.As(r.Err, &te)
}

// Config holds executor settings.
type Config struct {
	DefaultTimeout time.Duration
	// MaxOutputBytes caps each captured stream per stage. Zero means unlimited.
	MaxOutputBytes int
	// Image is passed through to container runtimes.
	Image string
}

// Executor runs stages sequentially through a Runtime.
type Executor struct {
	runtime runtime.Runtime
	config  Config
	logger  *slog.Logger

	tracer        trace.Tracer
	stageDuration metric.Float64Histogram
}

// New creates an Executor.
func New(rt runtime.Runtime, cfg Config, log *slog.Logger) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultStageTimeout
	}
	if log == nil {
		log = logger.Discard()
	}

	meter := otel.Meter("templerunner/pipeline")
	stageDuration, err := meter.Float64Histogram("templerunner.stage.duration",
		metric.WithDescription("Duration of toolchain stages"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Warn("failed to register stage duration metric", "error", err)
	}

	return &Executor{
		runtime:       rt,
		config:        cfg,
		logger:        log,
		tracer:        otel.Tracer("templerunner/pipeline"),
		stageDuration: stageDuration,
	}
}

// Run executes the stages in order with dir as the working directory. It
// stops after the first failing stage; results for later stages are never
// produced, so len(result) tells the caller how far the pipeline got.
func (e *Executor) Run(ctx context.Context, dir string, stages []StageSpec) []StageResult {
	results := make([]StageResult, 0, len(stages))
	for _, spec := range stages {
		res := e.runStage(ctx, dir, spec)
		results = append(results, res)
		if res.Failed() {
			break
		}
	}
	return results
}

func (e *Executor) runStage(ctx context.Context, dir string, spec StageSpec) StageResult {
	log := logger.FromContext(ctx, e.logger).With("stage", spec.Name)

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}

	spanCtx, span := e.tracer.Start(ctx, "stage."+spec.Name,
		trace.WithAttributes(
			attribute.String("stage.name", spec.Name),
			attribute.StringSlice("stage.command", spec.Command),
		),
	)
	defer span.End()

	stdout := newCappedBuffer(e.config.MaxOutputBytes)
	stderr := newCappedBuffer(e.config.MaxOutputBytes)

	res := StageResult{
		Name:      spec.Name,
		Command:   spec.Command,
		StartedAt: time.Now().UTC(),
	}
	finish := func() StageResult {
		res.Duration = time.Since(res.StartedAt)
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()

		outcome := "success"
		switch {
		case res.TimedOut():
			outcome = "timeout"
		case res.Failed():
			outcome = "failure"
		}
		if e.stageDuration != nil {
			e.stageDuration.Record(ctx, res.Duration.Seconds(), metric.WithAttributes(
				attribute.String("stage", spec.Name),
				attribute.String("outcome", outcome),
			))
		}
		span.SetAttributes(attribute.Int("stage.exit_code", res.ExitCode))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		log.Info("stage finished", "outcome", outcome, "exit_code", res.ExitCode, "duration", res.Duration)
		return res
	}

	// Stage context: cancelled by the caller or by the stage timeout.
	stageCtx, cancel := context.WithTimeout(spanCtx, timeout)
	defer cancel()

	handle, err := e.runtime.Start(stageCtx, runtime.StartOptions{
		Command: spec.Command,
		Dir:     dir,
		Env:     spec.Env,
		Image:   e.config.Image,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	if err != nil {
		res.ExitCode = -1
		res.Err = &ExecutionError{Stage: spec.Name, ExitCode: -1, Err: err}
		return finish()
	}

	exit, err := handle.Wait(stageCtx)
	if err != nil {
		res.ExitCode = -1
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		if stopErr := handle.Stop(stopCtx); stopErr != nil {
			log.Warn("failed to stop stage process", "error", stopErr)
		}

		// Only our own deadline counts as a stage timeout; a cancelled or
		// expired caller context is reported as an execution failure.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			res.Err = &TimeoutError{Stage: spec.Name, Timeout: timeout}
		} else {
			res.Err = &ExecutionError{Stage: spec.Name, ExitCode: -1, Err: err}
		}
		return finish()
	}

	res.ExitCode = exit.ExitCode
	if exit.ExitCode != 0 {
		res.Err = &ExecutionError{Stage: spec.Name, ExitCode: exit.ExitCode, Err: exit.Error}
	} else if exit.Error != nil {
		res.ExitCode = -1
		res.Err = &ExecutionError{Stage: spec.Name, ExitCode: -1, Err: exit.Error}
	}
	return finish()
}
