package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// Manager creates working directory scopes below a base directory.
type Manager struct {
	baseDir string
}

// NewManager returns a manager rooted at baseDir (the system temp dir when empty).
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// BaseDir returns the directory scopes are created in.
func (m *Manager) BaseDir() string { return m.baseDir }

// Acquire creates a new uniquely named directory. The caller must Release it.
func (m *Manager) Acquire(label string) (*Scope, error) {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace base: %w", err)
	}
	pattern := "nbrunner-*"
	if label != "" {
		pattern = "nbrunner-" + label + "-*"
	}
	dir, err := os.MkdirTemp(m.baseDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	slog.Debug("Created workspace", logfields.Path(dir))
	return &Scope{path: dir}, nil
}

// Scope is one working directory owned by a single request.
type Scope struct {
	mu       sync.Mutex
	path     string
	keep     bool
	released bool
}

// Path returns the directory of the scope.
func (s *Scope) Path() string { return s.path }

// Join joins elem onto the scope directory.
func (s *Scope) Join(elem ...string) string {
	return filepath.Join(append([]string{s.path}, elem...)...)
}

// Subdir creates a subdirectory within the scope.
func (s *Scope) Subdir(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return "", fmt.Errorf("workspace already released")
	}
	sub := filepath.Join(s.path, name)
	if err := os.MkdirAll(sub, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}
	return sub, nil
}

// Keep leaves the directory on disk when the scope is released.
func (s *Scope) Keep() {
	s.mu.Lock()
	s.keep = true
	s.mu.Unlock()
}

// Release removes the directory. Calling it more than once is a no-op.
func (s *Scope) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if s.keep {
		slog.Info("Keeping workspace", logfields.Path(s.path))
		return nil
	}
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}
	slog.Debug("Cleaned up workspace", logfields.Path(s.path))
	return nil
}
