package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// Strategy is one way of obtaining the token.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string
	// Lookup returns the token and true, or false when the strategy has none.
	Lookup(ctx context.Context) (string, bool)
}

// Backend is implemented by strategies that depend on an external secret store.
type Backend interface {
	// BackendConfigured reports whether the store can be queried at all.
	BackendConfigured() bool
}

// EnvStrategy reads the token from an environment variable.
type EnvStrategy struct {
	Var string
	// Getenv overrides os.Getenv.
	Getenv func(string) string
}

func (s EnvStrategy) Name() string { return "env:" + s.Var }

func (s EnvStrategy) Lookup(context.Context) (string, bool) {
	getenv := s.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	v := strings.TrimSpace(getenv(s.Var))
	return v, v != ""
}

// SecretAccessor reads a secret version by its full resource name.
type SecretAccessor interface {
	AccessSecret(ctx context.Context, name string) ([]byte, error)
}

// SecretManagerStrategy reads the token from a secret manager.
type SecretManagerStrategy struct {
	Project  string
	Secret   string
	Version  string
	Accessor SecretAccessor
}

// DefaultSecretName is the secret holding the GitHub token.
const DefaultSecretName = "github-token"

func (s SecretManagerStrategy) Name() string { return "secret-manager" }

// ResourceName returns projects/<project>/secrets/<secret>/versions/<version>.
func (s SecretManagerStrategy) ResourceName() string {
	secret := s.Secret
	if secret == "" {
		secret = DefaultSecretName
	}
	version := s.Version
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", s.Project, secret, version)
}

func (s SecretManagerStrategy) BackendConfigured() bool {
	return s.Project != "" && s.Accessor != nil
}

func (s SecretManagerStrategy) Lookup(ctx context.Context) (string, bool) {
	if !s.BackendConfigured() {
		slog.Debug("Secret manager not configured", logfields.Strategy(s.Name()))
		return "", false
	}
	data, err := s.Accessor.AccessSecret(ctx, s.ResourceName())
	if err != nil {
		slog.Warn("Could not read token from secret manager",
			logfields.Strategy(s.Name()),
			slog.String("secret", s.ResourceName()),
			logfields.Error(err))
		return "", false
	}
	v := strings.TrimSpace(string(data))
	return v, v != ""
}
