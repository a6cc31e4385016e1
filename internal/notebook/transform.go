package notebook

import (
	"log/slog"
	"strings"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// Mode selects the execution environment a notebook is rewritten for.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

// ParseMode accepts "local" or "cloud" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLocal:
		return ModeLocal, nil
	case ModeCloud:
		return ModeCloud, nil
	default:
		return "", ferrors.ValidationError("unknown execution mode").WithContext("mode", s).Build()
	}
}

// ParameterNames returns the parameters declared for the mode, in declaration order.
func (m Mode) ParameterNames() []string {
	if m == ModeCloud {
		return append([]string(nil), cloudParameters...)
	}
	return append([]string(nil), localParameters...)
}

// Source markers for cells without role tags.
const (
	markerSecretImport      = "from google.cloud import secretmanager"
	markerBareSecretImport  = "import secretmanager"
	markerTokenFunction     = "def get_github_token():"
	markerTokenAssignment   = "GITHUB_TOKEN = get_github_token()"
	markerUploadFunction    = "def upload_reports_to_github("
	UploadPathLiteral       = `file_path = f"reports/execution-{datetime.now().strftime('%Y%m%d-%H%M%S')}.md"`
	UploadPathReplacement   = `file_path = f"{reports_folder}/execution-{datetime.now().strftime('%Y%m%d-%H%M%S')}.md"`
	transformedCellsPrepend = 2
)

func credentialMarkers(mode Mode) []string {
	m := []string{markerSecretImport, markerTokenFunction, markerTokenAssignment}
	if mode == ModeLocal {
		m = append(m, markerBareSecretImport)
	}
	return m
}

// IsCredentialCell reports whether c fetches the token itself.
func IsCredentialCell(c *Cell, mode Mode) bool {
	if c.Type != CellCode {
		return false
	}
	if c.HasTag(TagCredentials) {
		return true
	}
	src := string(c.Source)
	for _, m := range credentialMarkers(mode) {
		if strings.Contains(src, m) {
			return true
		}
	}
	return false
}

// IsUploadCell reports whether c defines the report upload.
func IsUploadCell(c *Cell) bool {
	if c.Type != CellCode {
		return false
	}
	return c.HasTag(TagUploadReports) || strings.Contains(string(c.Source), markerUploadFunction)
}

// Report describes what a transform did to the source cells. Indices refer to
// the source document.
type Report struct {
	Mode        Mode  `json:"mode"`
	SourceCells int   `json:"source_cells"`
	OutputCells int   `json:"output_cells"`
	Dropped     []int `json:"dropped,omitempty"`
	Retargeted  []int `json:"retargeted,omitempty"`
	// Missed lists upload cells whose report path did not match the expected literal.
	Missed []int `json:"missed,omitempty"`
	// StrippedTags counts parameters tags removed from copied cells.
	StrippedTags int `json:"stripped_tags,omitempty"`
}

// Transform rewrites src for mode. The output starts with the parameters cell and the
// setup cell, followed by the source cells minus those with the credential role and
// any stale injected-parameters cells.
// src is not modified.
func Transform(src *Document, mode Mode) (*Document, Report) {
	if mode != ModeCloud {
		mode = ModeLocal
	}
	rep := Report{Mode: mode, SourceCells: len(src.Cells)}

	out := &Document{
		Cells:         make([]*Cell, 0, len(src.Cells)+transformedCellsPrepend),
		Metadata:      kernelMetadata(),
		NBFormat:      4,
		NBFormatMinor: 5,
	}
	out.Cells = append(out.Cells, newParametersCell(mode), newSetupCell(mode))

	for i, orig := range src.Cells {
		// A notebook saved after a previous papermill run still carries that
		// run's injected values; they would override the fresh parameters.
		if IsCredentialCell(orig, mode) || orig.HasTag(TagInjectedParameters) {
			rep.Dropped = append(rep.Dropped, i)
			continue
		}
		c := orig.Clone()
		if c.RemoveTag(TagParameters) {
			rep.StrippedTags++
		}
		if IsUploadCell(c) {
			if retarget(c) {
				rep.Retargeted = append(rep.Retargeted, i)
			} else {
				rep.Missed = append(rep.Missed, i)
				slog.Warn("Upload cell report path not rewritten",
					slog.Int("cell", i),
					logfields.Mode(string(mode)))
			}
		}
		out.Cells = append(out.Cells, c)
	}

	out.EnsureCellIDs()
	rep.OutputCells = len(out.Cells)
	slog.Debug("Notebook transformed",
		logfields.Mode(string(mode)),
		logfields.Cells(rep.OutputCells),
		slog.Int("dropped", len(rep.Dropped)),
		slog.Int("missed", len(rep.Missed)))
	return out, rep
}

func retarget(c *Cell) bool {
	src := string(c.Source)
	if !strings.Contains(src, UploadPathLiteral) {
		return false
	}
	c.Source = Source(strings.ReplaceAll(src, UploadPathLiteral, UploadPathReplacement))
	return true
}

// TransformFile reads in, transforms it for mode and writes the result to out.
func TransformFile(in, out string, mode Mode) (Report, error) {
	src, err := ReadFile(in)
	if err != nil {
		return Report{}, err
	}
	doc, rep := Transform(src, mode)
	if err := doc.WriteFile(out); err != nil {
		return rep, err
	}
	return rep, nil
}
