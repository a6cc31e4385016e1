package notebook

import (
	"bytes"
	"encoding/json"
	"maps"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
)

// Cell kinds.
const (
	CellCode     = "code"
	CellMarkdown = "markdown"
	CellRaw      = "raw"
)

// Document is an nbformat v4 notebook.
type Document struct {
	Cells         []*Cell        `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

// Cell is one notebook cell. Outputs are kept as raw JSON so that fields this
// package does not model survive a rewrite unchanged.
type Cell struct {
	ID             string
	Type           string
	Metadata       map[string]any
	Source         Source
	ExecutionCount *int
	Outputs        []json.RawMessage
	Attachments    json.RawMessage
}

type cellJSON struct {
	ID             string            `json:"id,omitempty"`
	Type           string            `json:"cell_type"`
	Metadata       map[string]any    `json:"metadata"`
	Source         Source            `json:"source"`
	ExecutionCount *int              `json:"execution_count,omitempty"`
	Outputs        []json.RawMessage `json:"outputs,omitempty"`
	Attachments    json.RawMessage   `json:"attachments,omitempty"`
}

func (c *Cell) UnmarshalJSON(b []byte) error {
	var raw cellJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Cell(raw)
	return nil
}

func (c Cell) MarshalJSON() ([]byte, error) {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	type base struct {
		ID       string         `json:"id,omitempty"`
		Type     string         `json:"cell_type"`
		Metadata map[string]any `json:"metadata"`
		Source   Source         `json:"source"`
	}
	b := base{ID: c.ID, Type: c.Type, Metadata: meta, Source: c.Source}
	if c.Type == CellCode {
		outputs := c.Outputs
		if outputs == nil {
			outputs = []json.RawMessage{}
		}
		return json.Marshal(struct {
			base
			ExecutionCount *int              `json:"execution_count"`
			Outputs        []json.RawMessage `json:"outputs"`
		}{b, c.ExecutionCount, outputs})
	}
	return json.Marshal(struct {
		base
		Attachments json.RawMessage `json:"attachments,omitempty"`
	}{b, c.Attachments})
}

// NewCodeCell returns a code cell with the given source and tags.
func NewCodeCell(source string, tags ...string) *Cell {
	c := &Cell{ID: newCellID(), Type: CellCode, Metadata: map[string]any{}, Source: Source(source)}
	if len(tags) > 0 {
		c.SetTags(tags)
	}
	return c
}

// NewMarkdownCell returns a markdown cell.
func NewMarkdownCell(source string) *Cell {
	return &Cell{ID: newCellID(), Type: CellMarkdown, Metadata: map[string]any{}, Source: Source(source)}
}

// Clone returns a deep enough copy for rewriting: metadata and outputs are not shared.
func (c *Cell) Clone() *Cell {
	cp := *c
	cp.Metadata = cloneMap(c.Metadata)
	if c.Outputs != nil {
		cp.Outputs = make([]json.RawMessage, len(c.Outputs))
		for i, o := range c.Outputs {
			cp.Outputs[i] = append(json.RawMessage(nil), o...)
		}
	}
	if c.ExecutionCount != nil {
		n := *c.ExecutionCount
		cp.ExecutionCount = &n
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := maps.Clone(m)
	for k, v := range out {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			out[k] = append([]any(nil), vv...)
		}
	}
	return out
}

// Parse decodes an nbformat v4 document.
func Parse(data []byte) (*Document, error) {
	return parse(data, "")
}

func parse(data []byte, path string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		b := ferrors.TransformError("invalid notebook JSON").WithCause(err)
		if path != "" {
			b.WithContext("path", path)
		}
		return nil, b.Build()
	}
	if doc.NBFormat != 4 {
		b := ferrors.TransformError("unsupported notebook format").WithContext("nbformat", doc.NBFormat)
		if path != "" {
			b.WithContext("path", path)
		}
		return nil, b.Build()
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	return &doc, nil
}

// ReadFile loads a notebook from path.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.NotFoundError("notebook not found").
				WithCause(err).
				WithContext("path", path).
				Build()
		}
		return nil, ferrors.FileSystemError("failed to read notebook").WithCause(err).WithContext("path", path).Build()
	}
	return parse(data, path)
}

// Encode serialises the document with nbformat's one-space indentation.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes the document to path.
func (d *Document) WriteFile(path string) error {
	data, err := d.Encode()
	if err != nil {
		return ferrors.TransformError("failed to encode notebook").WithCause(err).Build()
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ferrors.FileSystemError("failed to write notebook").WithCause(err).WithContext("path", path).Build()
	}
	return nil
}

// EnsureCellIDs assigns ids to cells without one and replaces duplicates.
func (d *Document) EnsureCellIDs() {
	seen := make(map[string]bool, len(d.Cells))
	for _, c := range d.Cells {
		if c.ID == "" || seen[c.ID] {
			c.ID = newCellID()
		}
		seen[c.ID] = true
	}
}

func newCellID() string { return uuid.NewString() }
