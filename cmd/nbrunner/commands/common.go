// Package commands implements the nbrunner command line.
package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"config.yaml" env:"NBRUNNER_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve     ServeCmd     `cmd:"" help:"Serve the HTTP API, the dashboard and scheduled runs"`
	Run       RunCmd       `cmd:"" help:"Run the configured notebook once and print the result"`
	Transform TransformCmd `cmd:"" help:"Rewrite a local notebook for an execution mode"`
	Steps     StepsCmd     `cmd:"" help:"List the step tags of a local notebook"`
	Init      InitCmd      `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// environment loads .env files and reads the process environment.
func environment() config.Env {
	for _, f := range config.LoadEnvFiles() {
		slog.Debug("Loaded environment file", logfields.Path(f))
	}
	return config.EnvFromOS()
}
