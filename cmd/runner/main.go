// Package main is the entry point for the templerunner compile service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"templerunner/internal/config"
	"templerunner/internal/logger"
	"templerunner/internal/observability"
	"templerunner/internal/runtime"
	"templerunner/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: templerunner.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slogger := logger.New()

	// Tracing is optional; spans go to the no-op provider without a collector.
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName:       "templerunner",
			ServiceVersion:    version,
			Endpoint:          cfg.OTELEndpoint,
			Runtime:           cfg.Runtime,
			DockerImage:       cfg.DockerImage,
			MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		})
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Select runtime based on configuration
	var rt runtime.Runtime
	var readyRuntime func(context.Context) error
	switch cfg.Runtime {
	case "exec":
		rt = runtime.NewExecRuntime()
		log.Printf("Using exec runtime")
	case "docker":
		dockerRT, err := runtime.NewDockerRuntime(cfg.DockerImage)
		if err != nil {
			log.Fatalf("Failed to create Docker runtime: %v", err)
		}
		defer dockerRT.Close()
		if err := dockerRT.Ping(ctx); err != nil {
			log.Fatalf("Docker daemon unreachable: %v", err)
		}
		rt = dockerRT
		readyRuntime = dockerRT.Ping
		log.Printf("Using docker runtime (image: %s)", cfg.DockerImage)
	default:
		log.Fatalf("Unknown runtime: %s", cfg.Runtime)
	}

	svc, workspaces, err := newService(cfg, rt, slogger)
	if err != nil {
		log.Fatalf("Failed to build compile service: %v", err)
	}
	if err := workspaces.CheckWritable(ctx); err != nil {
		log.Fatalf("Workspace root unusable: %v", err)
	}

	ready := func(ctx context.Context) error {
		if err := workspaces.CheckWritable(ctx); err != nil {
			return err
		}
		if readyRuntime != nil {
			return readyRuntime(ctx)
		}
		return nil
	}

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := server.New(server.Config{
		Addr:           addr,
		WriteTimeout:   cfg.HTTPWriteTimeout,
		MaxSourceBytes: cfg.MaxSourceBytes,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		APIKeys:        cfg.APIKeys,
		Ready:          ready,
		Metrics:        metricsHandler,
	}, svc, slogger)

	go func() {
		log.Printf("templerunner starting on %s (workspaces in %s)", addr, workspaces.Root())
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down runner...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPWriteTimeout+5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}
