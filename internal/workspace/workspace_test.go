package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"templerunner/internal/logger"
)

func countEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) failed: %v", dir, err)
	}
	return len(entries)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{}, nil)

	if m.Root() != os.TempDir() {
		t.Errorf("expected root %s, got %s", os.TempDir(), m.Root())
	}
	if m.config.SourcePath != filepath.Join("src", "main.nr") {
		t.Errorf("unexpected SourcePath: %s", m.config.SourcePath)
	}
	if string(m.config.Manifest) != string(DefaultManifest) {
		t.Error("expected default manifest")
	}
	if !strings.Contains(string(DefaultManifest), `type = "contract"`) {
		t.Error("embedded manifest looks wrong")
	}
}

func TestCreate_WritesLayout(t *testing.T) {
	root := t.TempDir()
	m := NewManager(Config{Root: root, Prefix: "job-"}, logger.Discard())

	ws, err := m.Create(context.Background(), "fn main() {}")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer ws.Close()

	if !strings.HasPrefix(filepath.Base(ws.Path), "job-") {
		t.Errorf("expected workspace name to start with job-, got %s", ws.Path)
	}
	if filepath.Dir(ws.Path) != root {
		t.Errorf("expected workspace under %s, got %s", root, ws.Path)
	}

	src, err := os.ReadFile(filepath.Join(ws.Path, "src", "main.nr"))
	if err != nil {
		t.Fatalf("source not written: %v", err)
	}
	if string(src) != "fn main() {}" {
		t.Errorf("unexpected source content: %q", src)
	}

	manifest, err := os.ReadFile(filepath.Join(ws.Path, "Nargo.toml"))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	if string(manifest) != string(DefaultManifest) {
		t.Error("manifest content mismatch")
	}
}

func TestCreate_CustomLayoutAndManifest(t *testing.T) {
	m := NewManager(Config{
		Root:         t.TempDir(),
		SourcePath:   "lib/input.txt",
		ManifestPath: "build.toml",
		Manifest:     []byte("custom = true\n"),
	}, nil)

	ws, err := m.Create(context.Background(), "payload")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer ws.Close()

	if got, _ := os.ReadFile(ws.Join("lib/input.txt")); string(got) != "payload" {
		t.Errorf("unexpected source: %q", got)
	}
	if got, _ := os.ReadFile(ws.Join("build.toml")); string(got) != "custom = true\n" {
		t.Errorf("unexpected manifest: %q", got)
	}
}

func TestCreate_UniquePathsUnderConcurrency(t *testing.T) {
	root := t.TempDir()
	m := NewManager(Config{Root: root}, nil)

	const jobs = 20
	paths := make(chan string, jobs)
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := m.Create(context.Background(), "same source")
			if err != nil {
				t.Errorf("Create failed: %v", err)
				return
			}
			paths <- ws.Path
		}()
	}
	wg.Wait()
	close(paths)

	seen := map[string]bool{}
	for p := range paths {
		if seen[p] {
			t.Errorf("duplicate workspace path %s", p)
		}
		seen[p] = true
	}
	if got := countEntries(t, root); got != jobs {
		t.Errorf("expected %d workspaces, got %d", jobs, got)
	}
}

func TestCreate_RootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(Config{Root: file}, nil)

	_, err := m.Create(context.Background(), "code")
	if err == nil {
		t.Fatal("expected error when root is a file")
	}
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected *InitError, got %T", err)
	}
	if !strings.Contains(err.Error(), "workspace initialization failed") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestCreate_WriteFailureRemovesPartialWorkspace(t *testing.T) {
	root := t.TempDir()
	// The manifest path collides with the source directory, so the second write fails.
	m := NewManager(Config{Root: root, SourcePath: "src/main.nr", ManifestPath: "src"}, nil)

	_, err := m.Create(context.Background(), "code")
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected *InitError, got %v", err)
	}
	if initErr.Op != "write manifest" {
		t.Errorf("expected op write manifest, got %s", initErr.Op)
	}
	if got := countEntries(t, root); got != 0 {
		t.Errorf("expected partial workspace to be removed, found %d entries", got)
	}
}

func TestCreate_CancelledContext(t *testing.T) {
	root := t.TempDir()
	m := NewManager(Config{Root: root}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Create(ctx, "code"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if got := countEntries(t, root); got != 0 {
		t.Errorf("expected no workspace, found %d entries", got)
	}
}

func TestClose_Idempotent(t *testing.T) {
	root := t.TempDir()
	m := NewManager(Config{Root: root}, nil)

	ws, err := m.Create(context.Background(), "code")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := ws.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Errorf("workspace still exists: %s", ws.Path)
	}
}

func TestClose_AlreadyRemoved(t *testing.T) {
	m := NewManager(Config{Root: t.TempDir()}, nil)

	ws, err := m.Create(context.Background(), "code")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		t.Fatal(err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close on removed workspace returned %v", err)
	}
}

func TestTeardown_FailureIsLoggedOnly(t *testing.T) {
	m := NewManager(Config{Root: t.TempDir()}, nil)
	calls := 0
	m.removeAll = func(string) error {
		calls++
		return errors.New("device busy")
	}

	ws, err := m.Create(context.Background(), "code")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer os.RemoveAll(ws.Path)

	// Teardown has no return value; it must not panic and must only try once.
	m.Teardown(context.Background(), ws)
	m.Teardown(context.Background(), ws)

	if calls != 1 {
		t.Errorf("expected 1 removal attempt, got %d", calls)
	}
	var cleanupErr *CleanupError
	if !errors.As(ws.Close(), &cleanupErr) {
		t.Errorf("expected *CleanupError from Close")
	}
}

func TestCheckWritable(t *testing.T) {
	root := t.TempDir()
	m := NewManager(Config{Root: root}, nil)

	if err := m.CheckWritable(context.Background()); err != nil {
		t.Fatalf("CheckWritable failed: %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}

	blocked := filepath.Join(root, "file")
	if err := os.WriteFile(blocked, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewManager(Config{Root: blocked}, nil).CheckWritable(context.Background()); err == nil {
		t.Error("expected error for a root that is a file")
	}
}
