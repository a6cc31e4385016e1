package handlers

import (
	"log/slog"
	"net/http"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/server/responses"
	"git.home.luguber.info/inful/nbrunner/internal/version"
)

// BackendInfo reports whether a remote secret backend is configured.
type BackendInfo interface {
	Available() bool
}

// StatusHandlers report deployment capabilities.
type StatusHandlers struct {
	cfg          ConfigSource
	runner       Runner
	backend      BackendInfo
	env          config.Env
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewStatusHandlers creates the status handlers.
func NewStatusHandlers(cfg ConfigSource, runner Runner, backend BackendInfo, env config.Env) *StatusHandlers {
	return &StatusHandlers{cfg: cfg, runner: runner, backend: backend, env: env, errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default())}
}

// HandleStatus reports the environment and which optional features work.
func (h *StatusHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	env := "local"
	if h.env.OnCloudRun() {
		env = "cloud"
	}
	respond(h.errorAdapter, w, r, http.StatusOK, responses.CapabilityResponse{
		Environment:                env,
		CloudAvailable:             h.backend != nil && h.backend.Available(),
		NotebookExecutionAvailable: h.runner.ExecutionAvailable(),
		GitHubTokenConfigured:      h.env.GitHubToken != "",
		Config:                     h.cfg.Load().GitHub(),
		Version:                    version.Version,
	})
}

// HandleHealth is the liveness probe.
func (h *StatusHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respond(h.errorAdapter, w, r, http.StatusOK, responses.HealthResponse{OK: true})
}
