package compiler

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Job outcomes recorded on the jobs counter.
const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeTimeout   = "timeout"
	outcomeInitError = "init_error"
	outcomeCancelled = "cancelled"
	outcomePanic     = "panic"
)

type metrics struct {
	jobs       metric.Int64Counter
	inflight   metric.Int64UpDownCounter
	workspaces metric.Int64UpDownCounter
}

func newMetrics(log *slog.Logger) *metrics {
	meter := otel.Meter("templerunner/compiler")
	m := &metrics{}
	var err error

	m.jobs, err = meter.Int64Counter("templerunner.jobs",
		metric.WithDescription("Compile jobs by outcome"))
	if err != nil {
		log.Warn("failed to register jobs metric", "error", err)
	}
	m.inflight, err = meter.Int64UpDownCounter("templerunner.jobs.inflight",
		metric.WithDescription("Compile jobs currently holding a concurrency slot"))
	if err != nil {
		log.Warn("failed to register inflight metric", "error", err)
	}
	m.workspaces, err = meter.Int64UpDownCounter("templerunner.workspaces.active",
		metric.WithDescription("Workspaces currently on disk"))
	if err != nil {
		log.Warn("failed to register workspaces metric", "error", err)
	}
	return m
}

func (m *metrics) jobDone(ctx context.Context, outcome string) {
	if m.jobs != nil {
		m.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *metrics) addInflight(ctx context.Context, n int64) {
	if m.inflight != nil {
		m.inflight.Add(ctx, n)
	}
}

func (m *metrics) addWorkspaces(ctx context.Context, n int64) {
	if m.workspaces != nil {
		m.workspaces.Add(ctx, n)
	}
}
