package credentials

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// Resolver tries its strategies in order; the first token found wins.
type Resolver struct {
	strategies []Strategy
}

// NewResolver returns a resolver over the given strategies.
func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// FromEnv builds the standard chain: GITHUB_TOKEN, then the secret manager of
// GOOGLE_CLOUD_PROJECT. accessor may be nil when no secret backend is reachable.
func FromEnv(env config.Env, accessor SecretAccessor) *Resolver {
	return NewResolver(
		EnvStrategy{Var: "GITHUB_TOKEN", Getenv: func(string) string { return env.GitHubToken }},
		SecretManagerStrategy{Project: env.GoogleCloudProject, Accessor: accessor},
	)
}

// Resolve returns the token and true, or "" and false when no strategy has one.
func (r *Resolver) Resolve(ctx context.Context) (string, bool) {
	for _, s := range r.strategies {
		if tok, ok := s.Lookup(ctx); ok {
			slog.Debug("Resolved token", logfields.Strategy(s.Name()))
			return tok, true
		}
	}
	slog.Info("No GitHub token available, continuing without one")
	return "", false
}

// Available reports whether any secret backend is configured.
func (r *Resolver) Available() bool {
	for _, s := range r.strategies {
		if b, ok := s.(Backend); ok && b.BackendConfigured() {
			return true
		}
	}
	return false
}

// Strategies returns the strategy names in resolution order.
func (r *Resolver) Strategies() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}
