package config

import (
	"maps"
	"time"
)

// Section names of the configuration document.
const (
	SectionGitHub  = "github"
	SectionProject = "project"
	SectionService = "service"
)

// Default values substituted for missing github keys.
const (
	DefaultSourceRepoURL = "https://github.com/modelearth/cloud.git"
	DefaultTargetRepo    = "https://github.com/modelearth/reports.git"
	DefaultNotebookPath  = "run/notebook.ipynb"
)

// Default dashboard datasets, relative to the working directory.
const (
	DefaultDataFile    = "data/acs_bls_merged.csv"
	DefaultDensityFile = "data/county_density.csv"
)

// Document is the persisted configuration. It is kept as a generic mapping so that
// sections and keys the service does not know survive a load/save round trip.
type Document map[string]any

// Defaults returns a fresh document holding only the default github section.
func Defaults() Document {
	return Document{
		SectionGitHub: map[string]any{
			"source_repo_url": DefaultSourceRepoURL,
			"target_repo":     DefaultTargetRepo,
			"notebook_path":   DefaultNotebookPath,
		},
	}
}

// GitHubSettings is the typed view of the github section.
type GitHubSettings struct {
	SourceRepoURL string `json:"source_repo"`
	TargetRepo    string `json:"target_repo"`
	NotebookPath  string `json:"notebook_path"`
}

// ServiceSettings is the typed view of the optional service section.
type ServiceSettings struct {
	Name     string
	Mode     string
	Schedule time.Duration
	// Cron is a five-field cron expression; it takes precedence over Schedule.
	Cron   string
	AppDir string
	// DataFile and DensityFile are the dashboard CSV datasets.
	DataFile    string
	DensityFile string
}

// Section returns the named top-level section, or nil when absent or not a mapping.
func (d Document) Section(name string) map[string]any {
	raw, ok := d[name]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v
	case Document:
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out
	default:
		return nil
	}
}

// String returns section.key as a string ("" when absent or not a string).
func (d Document) String(section, key string) string {
	s := d.Section(section)
	if s == nil {
		return ""
	}
	v, _ := s[key].(string)
	return v
}

// GitHub returns the github section; missing keys come back empty.
func (d Document) GitHub() GitHubSettings {
	return GitHubSettings{
		SourceRepoURL: d.String(SectionGitHub, "source_repo_url"),
		TargetRepo:    d.String(SectionGitHub, "target_repo"),
		NotebookPath:  d.String(SectionGitHub, "notebook_path"),
	}
}

// Service returns the service section. An unparsable schedule is treated as unset.
func (d Document) Service() ServiceSettings {
	s := ServiceSettings{
		Name:        d.String(SectionService, "name"),
		Mode:        d.String(SectionService, "mode"),
		Cron:        d.String(SectionService, "cron"),
		AppDir:      d.String(SectionService, "app_dir"),
		DataFile:    d.String(SectionService, "data_file"),
		DensityFile: d.String(SectionService, "density_file"),
	}
	if raw := d.String(SectionService, "schedule"); raw != "" {
		if dur, err := time.ParseDuration(raw); err == nil && dur > 0 {
			s.Schedule = dur
		}
	}
	if s.AppDir == "" {
		s.AppDir = "."
	}
	if s.DataFile == "" {
		s.DataFile = DefaultDataFile
	}
	if s.DensityFile == "" {
		s.DensityFile = DefaultDensityFile
	}
	return s
}

// Clone returns a copy that shares no section maps with d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		if sec := d.Section(k); sec != nil {
			out[k] = maps.Clone(sec)
			continue
		}
		out[k] = v
	}
	return out
}

// set writes section.key, creating or normalising the section mapping.
func (d Document) set(section, key string, value any) {
	sec := d.Section(section)
	if sec == nil {
		sec = map[string]any{}
	}
	sec[key] = value
	d[section] = sec
}

// fillDefaults substitutes defaults for missing or empty github keys.
func (d Document) fillDefaults() {
	defs := Defaults().Section(SectionGitHub)
	for k, v := range defs {
		if d.String(SectionGitHub, k) == "" {
			d.set(SectionGitHub, k, v)
		}
	}
}

// Patch carries client overrides. Nil fields leave the document untouched.
type Patch struct {
	ProjectID    *string `json:"projectId,omitempty"`
	ProjectName  *string `json:"projectName,omitempty"`
	Region       *string `json:"region,omitempty"`
	SourceRepo   *string `json:"sourceRepo,omitempty"`
	TargetRepo   *string `json:"targetRepo,omitempty"`
	NotebookPath *string `json:"notebookPath,omitempty"`
	ServiceName  *string `json:"serviceName,omitempty"`
}

// Apply merges the patch into d by key within each section.
func (p Patch) Apply(d Document) {
	for _, f := range []struct {
		section, key string
		value        *string
	}{
		{SectionProject, "id", p.ProjectID},
		{SectionProject, "name", p.ProjectName},
		{SectionProject, "region", p.Region},
		{SectionGitHub, "source_repo_url", p.SourceRepo},
		{SectionGitHub, "target_repo", p.TargetRepo},
		{SectionGitHub, "notebook_path", p.NotebookPath},
		{SectionService, "name", p.ServiceName},
	} {
		if f.value != nil {
			d.set(f.section, f.key, *f.value)
		}
	}
}

// Empty reports whether the patch carries no field.
func (p Patch) Empty() bool {
	return p == Patch{}
}
