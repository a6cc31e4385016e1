package reportstore

import (
	"os"
	"strconv"
	"strings"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
)

// Config describes the S3-compatible bucket rendered reports are archived in.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// ConfigFromEnv reads REPORTS_S3_* variables. An empty endpoint means archiving is off.
func ConfigFromEnv() (Config, error) {
	return ConfigFrom(os.Getenv)
}

// ConfigFrom reads the configuration through getenv.
func ConfigFrom(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	useSSL := true
	if raw := strings.TrimSpace(getenv("REPORTS_S3_USE_SSL")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, ferrors.ConfigError("REPORTS_S3_USE_SSL must be a boolean").WithCause(err).Build()
		}
		useSSL = b
	}
	return Config{
		Endpoint:  get("REPORTS_S3_ENDPOINT", ""),
		AccessKey: get("REPORTS_S3_ACCESS_KEY", ""),
		SecretKey: get("REPORTS_S3_SECRET_KEY", ""),
		Region:    get("REPORTS_S3_REGION", "us-east-1"),
		Bucket:    get("REPORTS_S3_BUCKET", "nbrunner-reports"),
		UseSSL:    useSSL,
		Prefix:    get("REPORTS_S3_PREFIX", "reports"),
	}, nil
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Endpoint) != "" }

// Validate checks a configuration that is Enabled.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return ferrors.ConfigError("report store endpoint is required").Build()
	case strings.Contains(c.Endpoint, "://"):
		return ferrors.ConfigError("report store endpoint must not include a scheme").WithContext("endpoint", c.Endpoint).Build()
	case strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "":
		return ferrors.ConfigError("report store access key and secret key are required").Build()
	case strings.TrimSpace(c.Bucket) == "":
		return ferrors.ConfigError("report store bucket is required").Build()
	case strings.TrimSpace(c.Region) == "":
		return ferrors.ConfigError("report store region is required").Build()
	}
	return nil
}
