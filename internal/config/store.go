package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "config.yaml"

// Store reads and writes the YAML configuration document.
// Writes from one process are serialised; concurrent writers in other processes
// still race and the last write wins.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns the current document. It never fails: a missing, unreadable or
// malformed file yields the defaults, and missing github keys are filled in.
func (s *Store) Load() Document {
	doc, err := s.read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Config file not found, using defaults", logfields.Path(s.path))
		} else {
			slog.Warn("Config file unreadable, using defaults", logfields.Path(s.path), logfields.Error(err))
		}
		doc = Defaults()
	}
	doc.fillDefaults()
	return doc
}

func (s *Store) read() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	// Decoding into a plain map keeps nested sections as map[string]any.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, ferrors.ConfigError("invalid YAML in config file").
			WithCause(err).
			WithContext("path", s.path).
			Build()
	}
	if raw == nil {
		return Document{}, nil
	}
	return Document(raw), nil
}

// Save merges the patch into the current document and overwrites the file.
func (s *Store) Save(p Patch) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.Load()
	p.Apply(doc)
	if err := s.write(doc); err != nil {
		return nil, err
	}
	slog.Info("Configuration saved", logfields.Path(s.path))
	return doc, nil
}

// Write replaces the file with doc.
func (s *Store) Write(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(doc)
}

func (s *Store) write(doc Document) error {
	data, err := yaml.Marshal(map[string]any(doc))
	if err != nil {
		return ferrors.ConfigError("failed to encode configuration").WithCause(err).Build()
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return ferrors.FileSystemError("failed to write configuration").
			WithCause(err).
			WithContext("path", s.path).
			Build()
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return ferrors.FileSystemError("failed to write configuration").WithCause(err).Build()
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return ferrors.FileSystemError("failed to write configuration").WithCause(err).Build()
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		slog.Debug("Could not set config file mode", logfields.Path(tmpName), logfields.Error(err))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return ferrors.FileSystemError("failed to replace configuration").
			WithCause(err).
			WithContext("path", s.path).
			Build()
	}
	return nil
}

// Init writes a default configuration to path. An existing file is kept unless force is set.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return ferrors.ValidationError("configuration file already exists (use --force to overwrite)").
			WithContext("path", path).
			Build()
	}
	doc := Defaults()
	doc[SectionProject] = map[string]any{"id": "", "name": "", "region": "us-central1"}
	doc[SectionService] = map[string]any{"name": "nbrunner", "mode": "", "schedule": "", "app_dir": "."}
	return NewStore(path).Write(doc)
}
