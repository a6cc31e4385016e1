package httpserver

import (
	"net/http"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	"git.home.luguber.info/inful/nbrunner/internal/dashboard"
	"git.home.luguber.info/inful/nbrunner/internal/metrics"
	"git.home.luguber.info/inful/nbrunner/internal/runstore"
	"git.home.luguber.info/inful/nbrunner/internal/server/handlers"
)

// Options wires the server to the rest of the service. Config, Runner, Puller and
// Tokens are required.
type Options struct {
	// Port is the listen port; 0 picks a free one.
	Port int
	// UIAccessToken guards the mutating endpoints. Empty disables the guard.
	UIAccessToken string
	// StaticDir holds page.html and index.html.
	StaticDir string

	Config  handlers.ConfigStore
	Runner  handlers.Runner
	Puller  handlers.Puller
	Tokens  handlers.TokenSource
	Backend handlers.BackendInfo
	Env     config.Env

	// Optional: run history endpoints.
	Runs runstore.Store
	// Optional: CSV dashboard endpoints.
	Dashboard *dashboard.Dashboard
	// Optional: request metrics and the /metrics endpoint.
	Recorder          metrics.Recorder
	PrometheusHandler http.Handler
}
