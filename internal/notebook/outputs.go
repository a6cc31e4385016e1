package notebook

import (
	"encoding/json"
	"fmt"
)

// Output types.
const (
	OutputStream        = "stream"
	OutputExecuteResult = "execute_result"
	OutputDisplayData   = "display_data"
	OutputError         = "error"
)

// Output is the decoded view of a code cell output.
type Output struct {
	OutputType string `json:"output_type"`
	Name       string `json:"name,omitempty"`
	Text       Source `json:"text,omitempty"`
	// Data is the MIME bundle. Text payloads are strings or line lists; others,
	// such as application/json, are arbitrary JSON.
	Data      map[string]json.RawMessage `json:"data,omitempty"`
	EName     string                     `json:"ename,omitempty"`
	EValue    string                     `json:"evalue,omitempty"`
	Traceback []string                   `json:"traceback,omitempty"`
}

// MIMEText returns the bundle entry for mime as text. ok is false when the entry
// is missing or not a multiline string.
func (o Output) MIMEText(mime string) (string, bool) {
	raw, ok := o.Data[mime]
	if !ok {
		return "", false
	}
	var s Source
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return string(s), true
}

// DecodedOutputs returns the outputs this package understands; undecodable entries are skipped.
func (c *Cell) DecodedOutputs() []Output {
	out := make([]Output, 0, len(c.Outputs))
	for _, raw := range c.Outputs {
		var o Output
		if err := json.Unmarshal(raw, &o); err != nil {
			continue
		}
		out = append(out, o)
	}
	return out
}

// CellError is the first error output found in an executed notebook.
type CellError struct {
	CellIndex int
	EName     string
	EValue    string
	Traceback []string
}

func (e CellError) String() string {
	return fmt.Sprintf("%s: %s", e.EName, e.EValue)
}

// FirstError returns the first error output in cell order.
func (d *Document) FirstError() (CellError, bool) {
	for i, c := range d.Cells {
		if c.Type != CellCode {
			continue
		}
		for _, o := range c.DecodedOutputs() {
			if o.OutputType == OutputError {
				return CellError{CellIndex: i, EName: o.EName, EValue: o.EValue, Traceback: o.Traceback}, true
			}
		}
	}
	return CellError{}, false
}
