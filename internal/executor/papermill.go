package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
	"git.home.luguber.info/inful/nbrunner/internal/notebook"
)

// SimulatedMessage is reported when the engine is not installed.
const SimulatedMessage = "Notebook execution simulated successfully (install dependencies for full functionality)"

// Result describes a completed execution.
type Result struct {
	Simulated bool
	Message   string
}

// Simulate returns the success result used when the engine is unavailable.
func Simulate() Result {
	return Result{Simulated: true, Message: SimulatedMessage}
}

// Papermill executes notebooks with the papermill CLI.
type Papermill struct {
	Binary string
	Python string
	Kernel string
	Runner CommandRunner
}

// NewPapermill returns an executor using papermill and python3 from PATH.
func NewPapermill() *Papermill {
	return &Papermill{Binary: "papermill", Python: "python3", Kernel: "python3", Runner: ExecRunner{}}
}

func (p *Papermill) runner() CommandRunner {
	if p.Runner == nil {
		return ExecRunner{}
	}
	return p.Runner
}

// Available reports whether the papermill binary can be found.
func (p *Papermill) Available() bool {
	_, err := p.runner().LookPath(p.Binary)
	return err == nil
}

var pythonVersion = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)

// InterpreterVersion returns the version of the python interpreter, or "" when it
// cannot be determined.
func (p *Papermill) InterpreterVersion(ctx context.Context) string {
	stdout, stderr, err := p.runner().Run(ctx, "", p.Python, "--version")
	if err != nil {
		slog.Debug("Python version unavailable", logfields.Error(err))
		return ""
	}
	// Older interpreters print the version on stderr.
	out := string(stdout) + string(stderr)
	if m := pythonVersion.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return strings.TrimSpace(out)
}

// Execute runs notebookFile with params and writes the executed notebook to outputFile.
// On failure the partially executed notebook stays in outputFile and the returned
// error names the failing cell's exception when one was recorded.
func (p *Papermill) Execute(ctx context.Context, notebookFile, outputFile string, params map[string]any) error {
	logParameterMismatch(notebookFile, params)

	paramsFile := outputFile + ".params.yaml"
	data, err := yaml.Marshal(params)
	if err != nil {
		return ferrors.ExecutionError("failed to encode parameters").WithCause(err).Build()
	}
	if err := os.WriteFile(paramsFile, data, 0o600); err != nil {
		return ferrors.FileSystemError("failed to write parameters file").WithCause(err).WithContext("path", paramsFile).Build()
	}
	defer func() { _ = os.Remove(paramsFile) }()

	args := []string{notebookFile, outputFile, "-f", paramsFile, "--cwd", filepath.Dir(notebookFile)}
	if p.Kernel != "" {
		args = append(args, "-k", p.Kernel)
	}

	start := time.Now()
	slog.Info("Executing notebook", logfields.Notebook(notebookFile), slog.Int("parameters", len(params)))
	stdout, stderr, err := p.runner().Run(ctx, filepath.Dir(notebookFile), p.Binary, args...)
	dur := float64(time.Since(start).Milliseconds())
	if len(stdout) > 0 {
		slog.Debug("papermill stdout", slog.String("output", string(stdout)))
	}
	if err == nil {
		slog.Info("Notebook executed", logfields.Notebook(notebookFile), logfields.DurationMS(dur))
		return nil
	}

	b := ferrors.ExecutionError("notebook execution failed").
		WithCause(err).
		WithContext("notebook", notebookFile).
		WithContext("output", outputFile)
	if executed, rerr := notebook.ReadFile(outputFile); rerr == nil {
		if ce, ok := executed.FirstError(); ok {
			b = ferrors.ExecutionError(ce.String()).
				WithCause(err).
				WithContext("notebook", notebookFile).
				WithContext("output", outputFile).
				WithContext("ename", ce.EName).
				WithContext("evalue", ce.EValue).
				WithContext("cell", ce.CellIndex)
		}
	}
	if tail := lastLines(string(stderr), 20); tail != "" {
		b.WithContext("stderr", tail)
	}
	slog.Warn("Notebook execution failed", logfields.Notebook(notebookFile), logfields.DurationMS(dur), logfields.Error(err))
	return b.Build()
}

// logParameterMismatch compares the parameters the notebook declares with the ones
// injected. papermill injects unknown names anyway, so this only logs.
func logParameterMismatch(notebookFile string, params map[string]any) {
	doc, err := notebook.ReadFile(notebookFile)
	if err != nil {
		return
	}
	declared := doc.DeclaredParameters()
	var undeclared, missing []string
	for k := range params {
		if k != notebook.ParamSteps && !slices.Contains(declared, k) {
			undeclared = append(undeclared, k)
		}
	}
	for _, d := range declared {
		if _, ok := params[d]; !ok {
			missing = append(missing, d)
		}
	}
	sort.Strings(undeclared)
	if len(undeclared) > 0 {
		slog.Warn("Injecting parameters the notebook does not declare",
			logfields.Notebook(notebookFile), slog.Any("names", undeclared))
	}
	if len(missing) > 0 {
		slog.Debug("Declared parameters left at their defaults",
			logfields.Notebook(notebookFile), slog.Any("names", missing))
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
