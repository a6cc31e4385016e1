package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// DefaultPort is used when PORT is unset or invalid.
const DefaultPort = 8100

// Env holds the settings taken from the process environment.
type Env struct {
	GitHubToken        string
	GoogleCloudProject string
	Port               int
	UIAccessToken      string
	// CloudRunService is K_SERVICE, set by the managed runtime.
	CloudRunService string
	NATSURL         string
	NATSSubject     string
}

// LoadEnvFiles loads .env and .env.local from the working directory. Variables that are
// already set in the process environment are not overridden. It returns the files loaded.
func LoadEnvFiles() []string {
	var loaded []string
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to load env file", logfields.Path(name), logfields.Error(err))
			continue
		}
		loaded = append(loaded, name)
	}
	return loaded
}

// EnvFromOS reads Env from the process environment.
func EnvFromOS() Env {
	return EnvFrom(os.Getenv)
}

// EnvFrom reads Env through getenv.
func EnvFrom(getenv func(string) string) Env {
	e := Env{
		GitHubToken:        strings.TrimSpace(getenv("GITHUB_TOKEN")),
		GoogleCloudProject: strings.TrimSpace(getenv("GOOGLE_CLOUD_PROJECT")),
		Port:               DefaultPort,
		UIAccessToken:      getenv("UI_ACCESS_TOKEN"),
		CloudRunService:    getenv("K_SERVICE"),
		NATSURL:            getenv("NATS_URL"),
		NATSSubject:        getenv("NATS_SUBJECT"),
	}
	if raw := strings.TrimSpace(getenv("PORT")); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p <= 0 || p > 65535 {
			slog.Warn("Ignoring invalid PORT", slog.String("value", raw))
		} else {
			e.Port = p
		}
	}
	return e
}

// OnCloudRun reports whether the managed runtime marker is present.
func (e Env) OnCloudRun() bool {
	return e.CloudRunService != ""
}
