package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Resource attribute keys describing how this runner executes jobs.
const (
	AttrRuntime     = attribute.Key("templerunner.runtime")
	AttrDockerImage = attribute.Key("templerunner.docker_image")
	AttrMaxJobs     = attribute.Key("templerunner.max_concurrent_jobs")
)

// TracerConfig describes the runner instance whose spans are exported.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	// Runtime is the stage backend, "exec" or "docker".
	Runtime string
	// DockerImage is recorded only for the docker runtime.
	DockerImage       string
	MaxConcurrentJobs int
}

// InitTracer installs a global trace provider that batches compile-job and
// stage spans to an OTLP collector. The returned function flushes pending
// spans and must be called on exit.
func InitTracer(ctx context.Context, cfg TracerConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("collector address is required")
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)

	return tp.Shutdown, nil
}

// newResource tags spans with the service identity and the job execution setup,
// so traces from exec and docker runners can be told apart.
func newResource(ctx context.Context, cfg TracerConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "templerunner"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		AttrRuntime.String(cfg.Runtime),
		AttrMaxJobs.Int(cfg.MaxConcurrentJobs),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Runtime == "docker" && cfg.DockerImage != "" {
		attrs = append(attrs, AttrDockerImage.String(cfg.DockerImage))
	}

	return resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
}
