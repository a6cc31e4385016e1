// Package responses defines the JSON payloads returned by the nbrunner HTTP API.
package responses

import (
	"git.home.luguber.info/inful/nbrunner/internal/config"
	"git.home.luguber.info/inful/nbrunner/internal/runstore"
)

// Status values used in payloads.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNoAction = "no action"
)

// MessageResponse is the generic {status, message} payload.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigResponse carries the full configuration document.
type ConfigResponse struct {
	Status string          `json:"status"`
	Config config.Document `json:"config"`
}

// StepsResponse lists the step tags of the configured notebook.
type StepsResponse struct {
	Status string   `json:"status"`
	Steps  []string `json:"steps"`
}

// CapabilityResponse describes what this deployment can do.
type CapabilityResponse struct {
	Environment                string                `json:"environment"`
	CloudAvailable             bool                  `json:"cloud_available"`
	NotebookExecutionAvailable bool                  `json:"notebook_execution_available"`
	GitHubTokenConfigured      bool                  `json:"github_token_configured"`
	Config                     config.GitHubSettings `json:"config"`
	Version                    string                `json:"version,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	OK bool `json:"ok"`
}

// RunsResponse lists recent runs.
type RunsResponse struct {
	Status string         `json:"status"`
	Runs   []runstore.Run `json:"runs"`
}

// RunResponse carries one run with its events.
type RunResponse struct {
	Status string        `json:"status"`
	Run    *runstore.Run `json:"run"`
}
