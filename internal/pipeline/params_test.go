package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/nbrunner/internal/notebook"
)

func TestBuildParametersLocal(t *testing.T) {
	p := BuildParameters(ParameterInput{
		Mode:       notebook.ModeLocal,
		Year:       2025,
		Port:       9000,
		TargetRepo: "https://example.com/r.git",
		Token:      "tok",
		Facts:      Facts{Hostname: "h", IP: "1.2.3.4", Platform: "Linux", PythonVersion: "3.11"},
	})

	for _, name := range notebook.ModeLocal.ParameterNames() {
		assert.Contains(t, p, name)
	}
	assert.Equal(t, "2025-local", p[notebook.ParamTargetFolder])
	assert.Equal(t, 2025, p[notebook.ParamCurrentYear])
	assert.Equal(t, "http://localhost:9000", p[notebook.ParamLocalServerURL])
	assert.Equal(t, EnvironmentLocal, p[notebook.ParamExecutionEnvironment])
	assert.NotContains(t, p, notebook.ParamSteps)
}

func TestBuildParametersCloudMatchesDeclaredNames(t *testing.T) {
	p := BuildParameters(ParameterInput{Mode: notebook.ModeCloud, Year: 2025, Token: "tok"})

	assert.ElementsMatch(t, notebook.ModeCloud.ParameterNames(), keys(p))
	assert.Equal(t, "", p[notebook.ParamGitHubToken])
}

func TestBuildParametersOverridesWin(t *testing.T) {
	p := BuildParameters(ParameterInput{
		Mode:      notebook.ModeLocal,
		Year:      2025,
		Overrides: map[string]any{notebook.ParamTargetFolder: "custom"},
		Steps:     []string{"a", "b"},
	})
	assert.Equal(t, "custom", p[notebook.ParamTargetFolder])
	assert.Equal(t, []string{"a", "b"}, p[notebook.ParamSteps])
}

func TestRedacted(t *testing.T) {
	in := map[string]any{"GITHUB_TOKEN": "abc", "API_SECRET": "x", "EMPTY_TOKEN": "", "TARGET_FOLDER": "2025-local"}
	out := Redacted(in)
	assert.Equal(t, "***", out["GITHUB_TOKEN"])
	assert.Equal(t, "***", out["API_SECRET"])
	assert.Equal(t, "", out["EMPTY_TOKEN"])
	assert.Equal(t, "2025-local", out["TARGET_FOLDER"])
	assert.Equal(t, "abc", in["GITHUB_TOKEN"], "input is not modified")
}

func TestPlatformName(t *testing.T) {
	assert.Equal(t, "Linux", platformName("linux"))
	assert.Equal(t, "Darwin", platformName("darwin"))
	assert.Equal(t, "Windows", platformName("windows"))
	assert.Equal(t, "plan9", platformName("plan9"))
}

func TestHostFacts(t *testing.T) {
	f := HostFacts(context.Background(), "3.12")
	assert.NotEmpty(t, f.Hostname)
	assert.NotEmpty(t, f.IP)
	assert.Equal(t, "3.12", f.PythonVersion)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
