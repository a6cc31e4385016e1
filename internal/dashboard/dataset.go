package dashboard

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// Record is one CSV row keyed by column name.
type Record map[string]string

// Table is a parsed CSV file.
type Table struct {
	Columns []string
	Rows    []Record
}

// Has reports whether the table has the named column.
func (t *Table) Has(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Dataset is a lazily loaded CSV file.
type Dataset struct {
	path   string
	derive func(*Table)

	mu    sync.RWMutex
	table *Table
}

// NewDataset returns a dataset for path. derive, when set, runs once after each parse.
func NewDataset(path string, derive func(*Table)) *Dataset {
	return &Dataset{path: path, derive: derive}
}

// Path returns the backing file.
func (d *Dataset) Path() string { return d.path }

// Exists reports whether the backing file is present.
func (d *Dataset) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// Table returns the parsed file. A missing file yields an empty table.
func (d *Dataset) Table() (*Table, error) {
	d.mu.RLock()
	t := d.table
	d.mu.RUnlock()
	if t != nil {
		return t, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.table != nil {
		return d.table, nil
	}
	t, err := readTable(d.path)
	if err != nil {
		return nil, err
	}
	if d.derive != nil {
		d.derive(t)
	}
	d.table = t
	slog.Debug("Dataset loaded", logfields.Path(d.path), slog.Int("rows", len(t.Rows)))
	return t, nil
}

// Invalidate drops the cached table.
func (d *Dataset) Invalidate() {
	d.mu.Lock()
	d.table = nil
	d.mu.Unlock()
}

func (d *Dataset) cached() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.table != nil
}

func readTable(path string) (*Table, error) {
	f, err := os.Open(path) // #nosec G304 -- dataset path comes from service configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Table{}, nil
		}
		return nil, ferrors.FileSystemError("failed to open dataset").WithCause(err).WithContext("path", path).Build()
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, ferrors.ValidationError("invalid CSV header").WithCause(err).WithContext("path", path).Build()
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	t := &Table{Columns: header}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ferrors.ValidationError("invalid CSV row").WithCause(err).WithContext("path", path).Build()
		}
		rec := make(Record, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// Watch invalidates the datasets whenever their files change, until ctx is done.
func Watch(ctx context.Context, sets ...*Dataset) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return ferrors.FileSystemError("failed to create file watcher").WithCause(err).Build()
	}

	byFile := make(map[string][]*Dataset)
	dirs := make(map[string]bool)
	for _, d := range sets {
		abs, err := filepath.Abs(d.path)
		if err != nil {
			_ = w.Close()
			return ferrors.FileSystemError("failed to resolve dataset path").WithCause(err).WithContext("path", d.path).Build()
		}
		byFile[abs] = append(byFile[abs], d)
		dirs[filepath.Dir(abs)] = true
	}
	// Watch directories so files created after startup are seen.
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			slog.Warn("Dataset directory not watched", logfields.Path(dir), logfields.Error(err))
		}
	}

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				for _, d := range byFile[filepath.Clean(ev.Name)] {
					if d.cached() {
						slog.Info("Dataset changed, dropping cache", logfields.Path(d.path))
					}
					d.Invalidate()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("Dataset watcher error", logfields.Error(err))
			}
		}
	}()
	return nil
}

// typed converts numeric measure columns to numbers. Identifier columns stay strings
// so leading zeros survive.
func typed(rec Record, columns []string) map[string]any {
	out := make(map[string]any, len(columns))
	for _, c := range columns {
		v, ok := rec[c]
		if !ok {
			continue
		}
		if isIdentifier(c) {
			out[c] = v
			continue
		}
		if v == "" {
			out[c] = nil
			continue
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[c] = n
			continue
		}
		out[c] = v
	}
	return out
}

func isIdentifier(column string) bool {
	switch {
	case column == "zip", column == "state", column == "county":
		return true
	case strings.HasSuffix(column, "_fips"), strings.HasSuffix(column, "_name"):
		return true
	}
	return false
}
