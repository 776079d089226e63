package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"templerunner/internal/config"
	"templerunner/internal/logger"
	"templerunner/internal/runtime"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		WorkspaceRoot:     t.TempDir(),
		WorkspacePrefix:   "texcoco-",
		SourcePath:        "src/main.nr",
		ManifestPath:      "Nargo.toml",
		CompileCommand:    []string{"sh", "-c", "mkdir -p target && cp Nargo.toml target/manifest.txt"},
		CodegenCommand:    []string{"sh", "-c", "mkdir -p src/artifacts && cp src/main.nr src/artifacts/main.txt"},
		StageTimeout:      time.Minute,
		OutputRoots:       []string{"src/artifacts", "target"},
		MaxConcurrentJobs: 2,
	}
}

func TestNewService_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	svc, workspaces, err := newService(cfg, runtime.NewExecRuntime(), logger.Discard())
	if err != nil {
		t.Fatalf("newService failed: %v", err)
	}
	if workspaces.Root() != cfg.WorkspaceRoot {
		t.Errorf("root = %s, want %s", workspaces.Root(), cfg.WorkspaceRoot)
	}

	resp := svc.Submit(context.Background(), "fn main() {}")
	if !resp.Success {
		t.Fatalf("expected success, got %q: %s", resp.Error, resp.Stderr)
	}
	if resp.Artifacts["src/artifacts/main.txt"] != "fn main() {}" {
		t.Errorf("unexpected source artifact: %v", resp.Artifacts)
	}
	if resp.Artifacts["target/manifest.txt"] == "" {
		t.Error("expected the built-in manifest to be written")
	}
}

func TestNewService_CustomManifest(t *testing.T) {
	cfg := testConfig(t)
	tmpl := filepath.Join(t.TempDir(), "Nargo.toml")
	if err := os.WriteFile(tmpl, []byte("[package]\nname = \"custom\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.ManifestTemplate = tmpl

	svc, _, err := newService(cfg, runtime.NewExecRuntime(), logger.Discard())
	if err != nil {
		t.Fatalf("newService failed: %v", err)
	}
	resp := svc.Submit(context.Background(), "fn main() {}")
	if got := resp.Artifacts["target/manifest.txt"]; got != "[package]\nname = \"custom\"\n" {
		t.Errorf("custom manifest not used, got %q", got)
	}
}

func TestNewService_MissingManifestTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.ManifestTemplate = filepath.Join(t.TempDir(), "missing.toml")

	if _, _, err := newService(cfg, runtime.NewExecRuntime(), logger.Discard()); err == nil {
		t.Error("expected error for missing manifest template")
	}
}
