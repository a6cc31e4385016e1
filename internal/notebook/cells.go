package notebook

import (
	"fmt"
	"strings"
)

// Parameter names shared by both modes.
const (
	ParamLocalExecution       = "LOCAL_EXECUTION"
	ParamGitHubToken          = "GITHUB_TOKEN"
	ParamTargetRepo           = "TARGET_REPO"
	ParamTargetFolder         = "TARGET_FOLDER"
	ParamExecutionEnvironment = "EXECUTION_ENVIRONMENT"
	ParamCurrentYear          = "CURRENT_YEAR"
	// Local only.
	ParamLocalServerURL = "LOCAL_SERVER_URL"
	ParamLocalHostname  = "LOCAL_HOSTNAME"
	ParamLocalIP        = "LOCAL_IP"
	ParamPlatform       = "PLATFORM"
	ParamPythonVersion  = "PYTHON_VERSION"
	// ParamSteps is injected only when the caller selects steps.
	ParamSteps = "steps"
)

var localParameters = []string{
	ParamLocalExecution, ParamGitHubToken, ParamTargetRepo, ParamTargetFolder,
	ParamExecutionEnvironment, ParamLocalServerURL, ParamLocalHostname, ParamLocalIP,
	ParamPlatform, ParamPythonVersion, ParamCurrentYear,
}

var cloudParameters = []string{
	ParamLocalExecution, ParamGitHubToken, ParamTargetRepo, ParamTargetFolder,
	ParamExecutionEnvironment, ParamCurrentYear,
}

// parameterDefault is the python literal each declared parameter starts with.
func parameterDefault(name string) string {
	switch name {
	case ParamLocalExecution:
		return "False"
	case ParamCurrentYear:
		return "0"
	default:
		return `""`
	}
}

func parametersSource(mode Mode) string {
	var b strings.Builder
	b.WriteString("# Parameters (papermill injects runtime values below this cell)\n")
	for _, name := range mode.ParameterNames() {
		fmt.Fprintf(&b, "%s = %s\n", name, parameterDefault(name))
	}
	return b.String()
}

// newParametersCell returns the single cell carrying the parameters tag.
func newParametersCell(mode Mode) *Cell {
	return NewCodeCell(parametersSource(mode), TagParameters)
}

const tokenFunction = `def get_github_token():
    if LOCAL_EXECUTION:
        return GITHUB_TOKEN or os.environ.get("GITHUB_TOKEN") or None
    try:
        from google.cloud import secretmanager
        client = secretmanager.SecretManagerServiceClient()
        name = f"projects/{os.environ.get('GOOGLE_CLOUD_PROJECT')}/secrets/github-token/versions/latest"
        response = client.access_secret_version(request={"name": name})
        return response.payload.data.decode("UTF-8")
    except Exception as exc:
        print(f"GitHub token unavailable from Secret Manager: {exc}")
        return GITHUB_TOKEN or os.environ.get("GITHUB_TOKEN") or None

GITHUB_TOKEN = get_github_token()
print(f"GitHub token available: {GITHUB_TOKEN is not None}")
`

const localReport = `execution_report = f'''
## Execution Report

**Environment:** {EXECUTION_ENVIRONMENT}
**Target Folder:** {reports_folder}
**Server:** {LOCAL_SERVER_URL}
**Hostname:** {LOCAL_HOSTNAME}
**Local IP:** {LOCAL_IP}
**Platform:** {PLATFORM}
**Python Version:** {PYTHON_VERSION}
**Execution Time:** {datetime.now().strftime("%Y-%m-%d %H:%M:%S")}
**GitHub Token Status:** {"Configured" if GITHUB_TOKEN else "Not found"}

---
'''
`

const cloudReport = `execution_report = f'''
## Execution Report

**Environment:** {EXECUTION_ENVIRONMENT}
**Target Folder:** {reports_folder}
**Execution Time:** {datetime.now().strftime("%Y-%m-%d %H:%M:%S")}
**GitHub Token Status:** {"Configured" if GITHUB_TOKEN else "Not found"}

---
'''
`

func setupSource(mode Mode) string {
	var b strings.Builder
	b.WriteString("# Environment setup\n")
	b.WriteString("import os\nimport json\nimport base64\nimport requests\nfrom datetime import datetime\n\n")
	b.WriteString(tokenFunction)
	b.WriteString("\n")
	fmt.Fprintf(&b, "reports_folder = TARGET_FOLDER or f\"{CURRENT_YEAR}-%s\"\n", mode)
	if mode == ModeLocal {
		b.WriteString(localReport)
	} else {
		b.WriteString(cloudReport)
	}
	b.WriteString("print(execution_report)\n")
	b.WriteString("print(f\"Reports will be saved to folder: {reports_folder}\")\n")
	return b.String()
}

func newSetupCell(mode Mode) *Cell {
	return NewCodeCell(setupSource(mode))
}

// kernelMetadata is the fixed notebook metadata of transformed documents.
func kernelMetadata() map[string]any {
	return map[string]any{
		"kernelspec": map[string]any{
			"display_name": "Python 3",
			"language":     "python",
			"name":         "python3",
		},
		"language_info": map[string]any{
			"name":    "python",
			"version": "3.12.0",
		},
	}
}
