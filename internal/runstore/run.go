package runstore

import (
	"context"
	"time"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Run is one pipeline execution.
type Run struct {
	ID          string         `json:"id"`
	Notebook    string         `json:"notebook"`
	Mode        string         `json:"mode"`
	Trigger     string         `json:"trigger"`
	State       string         `json:"state"`
	Status      string         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Fingerprint string         `json:"report_fingerprint,omitempty"`
	ReportURL   string         `json:"report_url,omitempty"`
	HasReport   bool           `json:"has_report"`
	Events      []Event        `json:"events,omitempty"`
}

// Event is a stage transition of a run.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"-"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Outcome is the final result written when a run finishes.
type Outcome struct {
	Status      string
	Message     string
	Report      []byte
	Fingerprint string
	ReportURL   string
}

// Store persists runs.
type Store interface {
	// Create inserts a new run in the running status.
	Create(ctx context.Context, run Run) error
	// AppendEvent records a state transition and updates the run's current state.
	AppendEvent(ctx context.Context, runID, state, detail string) error
	// Finish stores the outcome of the run.
	Finish(ctx context.Context, runID string, out Outcome) error
	// Get returns a run with its events.
	Get(ctx context.Context, runID string) (*Run, error)
	// List returns the most recent runs first, without events.
	List(ctx context.Context, limit int) ([]Run, error)
	// Report returns the rendered report of a run.
	Report(ctx context.Context, runID string) ([]byte, error)
	Close() error
}
