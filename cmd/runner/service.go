package main

import (
	"fmt"
	"log/slog"
	"os"

	"templerunner/internal/artifact"
	"templerunner/internal/compiler"
	"templerunner/internal/config"
	"templerunner/internal/pipeline"
	"templerunner/internal/runtime"
	"templerunner/internal/workspace"
)

// newService assembles the compile service from configuration.
func newService(cfg *config.Config, rt runtime.Runtime, log *slog.Logger) (*compiler.Service, *workspace.Manager, error) {
	manifest, err := loadManifest(cfg.ManifestTemplate)
	if err != nil {
		return nil, nil, err
	}

	workspaces := workspace.NewManager(workspace.Config{
		Root:         cfg.WorkspaceRoot,
		Prefix:       cfg.WorkspacePrefix,
		SourcePath:   cfg.SourcePath,
		ManifestPath: cfg.ManifestPath,
		Manifest:     manifest,
	}, log)

	executor := pipeline.New(rt, pipeline.Config{
		DefaultTimeout: cfg.StageTimeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
		Image:          cfg.DockerImage,
	}, log)

	collector := artifact.NewCollector(artifact.Config{
		MaxFileBytes:  cfg.MaxArtifactBytes,
		MaxTotalBytes: cfg.MaxTotalArtifactBytes,
	}, log)

	svc := compiler.New(workspaces, executor, collector, compiler.Config{
		Stages: []pipeline.StageSpec{
			{Name: "compile", Command: cfg.CompileCommand},
			{Name: "codegen", Command: cfg.CodegenCommand},
		},
		OutputRoots:       cfg.OutputRoots,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	}, log)

	return svc, workspaces, nil
}

// loadManifest returns the manifest template contents, or nil for the built-in one.
func loadManifest(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest template: %w", err)
	}
	return data, nil
}
