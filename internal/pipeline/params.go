package pipeline

import (
	"context"
	"fmt"
	"maps"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"git.home.luguber.info/inful/nbrunner/internal/notebook"
)

// Environment labels injected as EXECUTION_ENVIRONMENT.
const (
	EnvironmentLocal = "Local Development Server"
	EnvironmentCloud = "Google Cloud Run"
)

// Facts describes the machine a local run executes on.
type Facts struct {
	Hostname      string
	IP            string
	Platform      string
	PythonVersion string
}

// HostFacts collects hostname, address and platform. python is the interpreter
// version reported by the executor.
func HostFacts(ctx context.Context, python string) Facts {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return Facts{
		Hostname:      host,
		IP:            lookupIP(ctx, host),
		Platform:      platformName(runtime.GOOS),
		PythonVersion: python,
	}
}

func lookupIP(ctx context.Context, host string) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP.String()
	}
	return "127.0.0.1"
}

// platformName reports the operating system the way the notebook expects it.
func platformName(goos string) string {
	switch goos {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	default:
		return goos
	}
}

// TargetFolder is the reports folder of a run: "<year>-local" or "<year>-cloud".
func TargetFolder(year int, mode notebook.Mode) string {
	return fmt.Sprintf("%d-%s", year, mode)
}

// ParameterInput is everything a parameter set is assembled from.
type ParameterInput struct {
	Mode       notebook.Mode
	Year       int
	Port       int
	TargetRepo string
	// Token is injected in local mode only; cloud notebooks read the secret backend.
	Token     string
	Facts     Facts
	Overrides map[string]any
	Steps     []string
}

// BuildParameters assembles the parameter set of a run. Caller overrides win over
// computed values; steps are added when present.
func BuildParameters(in ParameterInput) map[string]any {
	p := map[string]any{
		notebook.ParamLocalExecution:       in.Mode == notebook.ModeLocal,
		notebook.ParamTargetRepo:           in.TargetRepo,
		notebook.ParamTargetFolder:         TargetFolder(in.Year, in.Mode),
		notebook.ParamCurrentYear:          in.Year,
		notebook.ParamExecutionEnvironment: EnvironmentCloud,
		notebook.ParamGitHubToken:          "",
	}
	if in.Mode == notebook.ModeLocal {
		p[notebook.ParamGitHubToken] = in.Token
		p[notebook.ParamExecutionEnvironment] = EnvironmentLocal
		p[notebook.ParamLocalServerURL] = fmt.Sprintf("http://localhost:%d", in.Port)
		p[notebook.ParamLocalHostname] = in.Facts.Hostname
		p[notebook.ParamLocalIP] = in.Facts.IP
		p[notebook.ParamPlatform] = in.Facts.Platform
		p[notebook.ParamPythonVersion] = in.Facts.PythonVersion
	}
	maps.Copy(p, in.Overrides)
	if len(in.Steps) > 0 {
		p[notebook.ParamSteps] = append([]string(nil), in.Steps...)
	}
	return p
}

// Redacted returns a copy of params safe to persist: token values are masked.
func Redacted(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if isSecretName(k) {
			if s, ok := v.(string); ok && s == "" {
				out[k] = ""
				continue
			}
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}

func isSecretName(name string) bool {
	n := strings.ToUpper(name)
	return strings.Contains(n, "TOKEN") || strings.Contains(n, "SECRET") || strings.Contains(n, "PASSWORD")
}
