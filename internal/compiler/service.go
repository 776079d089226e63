package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"templerunner/internal/artifact"
	"templerunner/internal/logger"
	"templerunner/internal/pipeline"
	"templerunner/internal/workspace"
	"templerunner/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Workspaces allocates and removes job workspaces.
type Workspaces interface {
	Create(ctx context.Context, source string) (*workspace.Workspace, error)
	Teardown(ctx context.Context, ws *workspace.Workspace)
}

// Pipeline runs toolchain stages in a directory.
type Pipeline interface {
	Run(ctx context.Context, dir string, stages []pipeline.StageSpec) []pipeline.StageResult
}

// Collector reads produced files from a directory.
type Collector interface {
	Collect(dir string, roots []string) (artifact.Set, error)
}

// Config holds the job layout.
type Config struct {
	// Stages run in order against every workspace.
	Stages []pipeline.StageSpec
	// OutputRoots are scanned for artifacts after the pipeline finishes.
	OutputRoots []string
	// MaxConcurrentJobs bounds simultaneous jobs. Values <= 0 mean 1.
	MaxConcurrentJobs int
}

// Service is the compile-job runner.
type Service struct {
	workspaces Workspaces
	pipeline   Pipeline
	collector  Collector
	config     Config
	logger     *slog.Logger

	// sem holds one slot per running job.
	sem     chan struct{}
	tracer  trace.Tracer
	metrics *metrics

	// now is swapped in tests.
	now func() time.Time
}

// New creates a Service.
func New(ws Workspaces, p Pipeline, c Collector, cfg Config, log *slog.Logger) *Service {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		workspaces: ws,
		pipeline:   p,
		collector:  c,
		config:     cfg,
		logger:     log,
		sem:        make(chan struct{}, cfg.MaxConcurrentJobs),
		tracer:     otel.Tracer("templerunner/compiler"),
		metrics:    newMetrics(log),
		now:        time.Now,
	}
}

// Submit runs one compile job to completion and always returns an envelope.
// Toolchain and infrastructure failures are reported inside the envelope;
// the workspace is removed before Submit returns on every path.
// Cancelling ctx stops the running stage.
func (s *Service) Submit(ctx context.Context, source string) (resp api.CompileResponse) {
	job := NewJob(source)
	ctx = logger.WithJobID(ctx, job.ID.String())
	log := logger.FromContext(ctx, s.logger)

	ctx, span := s.tracer.Start(ctx, "compile_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.Int("job.source_bytes", len(source)),
		),
	)
	defer span.End()

	outcome := Outcome{
		JobID:     job.ID.String(),
		Start:     job.CreatedAt,
		Requested: len(s.config.Stages),
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("compile job panicked", "panic", r)
			outcome.Err = fmt.Errorf("internal error: %v", r)
			resp = Assemble(outcome, s.now())
			s.metrics.jobDone(ctx, outcomePanic)
			span.SetStatus(codes.Error, "panic")
		}
	}()

	log.Debug("job state", "state", StateCreated)

	// A done ctx must not race a free slot in the select below.
	if err := ctx.Err(); err != nil {
		return s.cancelledBeforeStart(ctx, outcome, err)
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return s.cancelledBeforeStart(ctx, outcome, ctx.Err())
	}
	s.metrics.addInflight(ctx, 1)
	defer func() {
		<-s.sem
		s.metrics.addInflight(ctx, -1)
	}()

	ws, err := s.workspaces.Create(ctx, source)
	if err != nil {
		log.Error("workspace initialization failed", "error", err)
		span.RecordError(err)
		outcome.Err = err
		s.metrics.jobDone(ctx, outcomeInitError)
		return Assemble(outcome, s.now())
	}
	s.metrics.addWorkspaces(ctx, 1)
	defer func() {
		s.workspaces.Teardown(ctx, ws)
		s.metrics.addWorkspaces(ctx, -1)
		log.Debug("job state", "state", StateTornDown)
	}()
	log.Debug("job state", "state", StateWorkspaceReady)

	log.Debug("job state", "state", StateStageRunning)
	outcome.Results = s.pipeline.Run(ctx, ws.Path, s.config.Stages)
	if len(outcome.Results) == outcome.Requested && !lastFailed(outcome.Results) {
		log.Debug("job state", "state", StatePipelineDone)
	} else {
		log.Debug("job state", "state", StatePipelineAborted)
	}

	// Collection runs after a failed stage too, so partial output reaches the caller.
	set, err := s.collector.Collect(ws.Path, s.config.OutputRoots)
	outcome.Artifacts = set
	if err != nil && outcome.Succeeded() {
		outcome.Err = fmt.Errorf("artifact collection failed: %w", err)
	} else if err != nil {
		log.Warn("artifact collection failed after stage failure", "error", err)
	}
	log.Debug("job state", "state", StateArtifactsCollected, "artifacts", set.Len())

	resp = Assemble(outcome, s.now())

	result := outcomeSuccess
	switch {
	case resp.Success:
	case timedOut(outcome.Results):
		result = outcomeTimeout
	default:
		result = outcomeFailure
	}
	s.metrics.jobDone(ctx, result)
	span.SetAttributes(
		attribute.Bool("job.success", resp.Success),
		attribute.Int("job.stages_run", len(outcome.Results)),
		attribute.Int("job.artifacts", set.Len()),
	)
	if !resp.Success {
		span.SetStatus(codes.Error, resp.Error)
	}

	log.Info("compile job finished",
		"success", resp.Success,
		"stages_run", len(outcome.Results),
		"artifacts", set.Len(),
		"duration_ms", resp.Duration,
	)
	return resp
}

func (s *Service) cancelledBeforeStart(ctx context.Context, outcome Outcome, cause error) api.CompileResponse {
	outcome.Err = fmt.Errorf("cancelled before start: %w", cause)
	s.metrics.jobDone(ctx, outcomeCancelled)
	logger.FromContext(ctx, s.logger).Info("compile job cancelled before start", "error", cause)
	return Assemble(outcome, s.now())
}

func lastFailed(results []pipeline.StageResult) bool {
	return len(results) > 0 && results[len(results)-1].Failed()
}

func timedOut(results []pipeline.StageResult) bool {
	for _, r := range results {
		var te *pipeline.TimeoutError
		if errors.As(r.Err, &te) {
			return true
		}
	}
	return false
}
