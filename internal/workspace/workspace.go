// Package workspace allocates and tears down the per-job directory trees the
// toolchain runs in.
package workspace

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"templerunner/internal/logger"

	"github.com/google/uuid"
)

// DefaultManifest is the toolchain manifest written into every workspace
// unless Config.Manifest overrides it.
//
//go:embed templates/Nargo.toml
var DefaultManifest []byte

// maxNameAttempts bounds retries when a generated directory name already exists.
const maxNameAttempts = 3

// Config holds the workspace layout.
type Config struct {
	// Root is the parent directory for all workspaces (default: os.TempDir()).
	Root string
	// Prefix is prepended to every workspace directory name.
	Prefix string
	// SourcePath is where the submitted source is written, relative to the workspace.
	SourcePath string
	// ManifestPath is where the manifest is written, relative to the workspace.
	ManifestPath string
	// Manifest is the manifest content. Nil means DefaultManifest.
	Manifest []byte
}

// Manager creates and removes workspaces.
type Manager struct {
	config Config
	logger *slog.Logger

	// removeAll is swapped in tests to simulate teardown failures.
	removeAll func(string) error
}

// Workspace is an exclusively owned directory for a single job.
type Workspace struct {
	// Path is the absolute workspace directory.
	Path      string
	CreatedAt time.Time

	once      sync.Once
	closeErr  error
	removeAll func(string) error
}

// InitError is returned when a workspace cannot be prepared. No stage may run.
type InitError struct {
	Op  string
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("workspace initialization failed: %s: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// CleanupError is reported when a workspace could not be removed.
type CleanupError struct {
	Path string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to remove workspace %s: %v", e.Path, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// NewManager creates a Manager. Empty fields fall back to defaults.
func NewManager(cfg Config, log *slog.Logger) *Manager {
	if cfg.Root == "" {
		cfg.Root = os.TempDir()
	}
	if abs, err := filepath.Abs(cfg.Root); err == nil {
		cfg.Root = abs
	}
	if cfg.SourcePath == "" {
		cfg.SourcePath = filepath.Join("src", "main.nr")
	}
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = "Nargo.toml"
	}
	if cfg.Manifest == nil {
		cfg.Manifest = DefaultManifest
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		config:    cfg,
		logger:    log,
		removeAll: os.RemoveAll,
	}
}

// Root returns the directory workspaces are created under.
func (m *Manager) Root() string {
	return m.config.Root
}

// Create allocates a fresh workspace and writes the source and manifest into it.
// The directory name carries a random token, never a caller-supplied identifier.
// On failure any partially created directory is removed and an *InitError is returned.
func (m *Manager) Create(ctx context.Context, source string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, &InitError{Op: "create", Err: err}
	}
	if err := os.MkdirAll(m.config.Root, 0o755); err != nil {
		return nil, &InitError{Op: "create root", Err: err}
	}

	dir, err := m.mkdirUnique()
	if err != nil {
		return nil, &InitError{Op: "create directory", Err: err}
	}

	ws := &Workspace{
		Path:      dir,
		CreatedAt: time.Now().UTC(),
		removeAll: m.removeAll,
	}

	if err := writeFile(dir, m.config.SourcePath, []byte(source)); err != nil {
		m.Teardown(ctx, ws)
		return nil, &InitError{Op: "write source", Err: err}
	}
	if err := writeFile(dir, m.config.ManifestPath, m.config.Manifest); err != nil {
		m.Teardown(ctx, ws)
		return nil, &InitError{Op: "write manifest", Err: err}
	}

	logger.FromContext(ctx, m.logger).Debug("workspace created", "path", dir)
	return ws, nil
}

// Teardown removes the workspace. Failures are logged and never returned:
// they must not change the outcome of the job.
func (m *Manager) Teardown(ctx context.Context, ws *Workspace) {
	if ws == nil {
		return
	}
	if err := ws.Close(); err != nil {
		logger.FromContext(ctx, m.logger).Error("workspace teardown failed", "error", err)
	}
}

// CheckWritable verifies that workspaces can be created under the root.
func (m *Manager) CheckWritable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(m.config.Root, 0o755); err != nil {
		return fmt.Errorf("workspace root %s: %w", m.config.Root, err)
	}
	f, err := os.CreateTemp(m.config.Root, m.config.Prefix+"probe-")
	if err != nil {
		return fmt.Errorf("workspace root %s is not writable: %w", m.config.Root, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (m *Manager) mkdirUnique() (string, error) {
	var lastErr error
	for i := 0; i < maxNameAttempts; i++ {
		dir := filepath.Join(m.config.Root, m.config.Prefix+uuid.NewString())
		// Mkdir fails if the path exists, so two jobs can never share a directory.
		err := os.Mkdir(dir, 0o700)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// Close removes the workspace directory tree. It is safe to call more than once;
// only the first call does any work and later calls return its result.
func (w *Workspace) Close() error {
	w.once.Do(func() {
		removeAll := w.removeAll
		if removeAll == nil {
			removeAll = os.RemoveAll
		}
		// RemoveAll returns nil for a path that is already gone.
		if err := removeAll(w.Path); err != nil {
			w.closeErr = &CleanupError{Path: w.Path, Err: err}
		}
	})
	return w.closeErr
}

// Join resolves a workspace-relative path.
func (w *Workspace) Join(rel string) string {
	return filepath.Join(w.Path, filepath.FromSlash(rel))
}

func writeFile(dir, rel string, content []byte) error {
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}
