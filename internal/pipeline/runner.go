package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	"git.home.luguber.info/inful/nbrunner/internal/executor"
	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
	"git.home.luguber.info/inful/nbrunner/internal/metrics"
	"git.home.luguber.info/inful/nbrunner/internal/notebook"
	"git.home.luguber.info/inful/nbrunner/internal/notify"
	"git.home.luguber.info/inful/nbrunner/internal/reportstore"
	"git.home.luguber.info/inful/nbrunner/internal/runstore"
	"git.home.luguber.info/inful/nbrunner/internal/workspace"
)

// SuccessMessage is reported for a run whose notebook executed.
const SuccessMessage = "Notebook executed successfully"

// ConfigSource supplies the configuration document for each run.
type ConfigSource interface {
	Load() config.Document
}

// Fetcher materialises the source repository.
type Fetcher interface {
	Clone(ctx context.Context, url, dest, token string) error
	HeadCommit(dir string) (string, error)
}

// Executor runs a prepared notebook.
type Executor interface {
	Available() bool
	InterpreterVersion(ctx context.Context) string
	Execute(ctx context.Context, notebookFile, outputFile string, params map[string]any) error
}

// TokenSource resolves the repository token. ok is false when none is available.
type TokenSource interface {
	Resolve(ctx context.Context) (token string, ok bool)
}

// Request is one run of the notebook.
type Request struct {
	// NotebookPath is relative to the repository root; empty uses github.notebook_path.
	NotebookPath string         `json:"notebook_path,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Steps        []string       `json:"steps,omitempty"`
	// Mode is "local" or "cloud"; empty uses service.mode, then the runtime.
	Mode    string `json:"mode,omitempty"`
	Trigger string `json:"-"`
	// KeepWorkDir leaves the working directory on disk for inspection.
	KeepWorkDir bool `json:"-"`
}

// Result is the outcome of a run. Status is "success" or "error".
type Result struct {
	RunID       string           `json:"run_id"`
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	Mode        notebook.Mode    `json:"mode,omitempty"`
	State       State            `json:"state"`
	FailedStage Stage            `json:"stage,omitempty"`
	Render      string           `json:"render,omitempty"`
	Commit      string           `json:"commit,omitempty"`
	WorkDir     string           `json:"work_dir,omitempty"`
	Simulated   bool             `json:"simulated,omitempty"`
	ReportURL   string           `json:"report_url,omitempty"`
	Fingerprint string           `json:"report_fingerprint,omitempty"`
	Transform   *notebook.Report `json:"transform,omitempty"`
	Duration    time.Duration    `json:"-"`
	Err         error            `json:"-"`
}

// OK reports whether the run succeeded.
func (r Result) OK() bool { return r.Status == runstore.StatusSuccess }

// Option configures a Runner.
type Option func(*Runner)

// WithRunStore records every run and state transition in s.
func WithRunStore(s runstore.Store) Option { return func(r *Runner) { r.store = s } }

// WithRecorder sets the metrics recorder.
func WithRecorder(m metrics.Recorder) Option {
	return func(r *Runner) {
		if m != nil {
			r.recorder = m
		}
	}
}

// WithPublisher publishes the outcome of every run.
func WithPublisher(p notify.Publisher) Option {
	return func(r *Runner) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithArchive stores rendered reports in a.
func WithArchive(a reportstore.Archive) Option {
	return func(r *Runner) {
		if a != nil {
			r.archive = a
		}
	}
}

// WithWorkspaces sets where working directories are created.
func WithWorkspaces(m *workspace.Manager) Option { return func(r *Runner) { r.workspaces = m } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// WithFacts overrides host fact collection.
func WithFacts(f func(ctx context.Context, python string) Facts) Option {
	return func(r *Runner) { r.facts = f }
}

// Runner executes pipeline requests. It is safe for concurrent use; each Run owns
// its own working directory.
type Runner struct {
	cfg      ConfigSource
	fetcher  Fetcher
	executor Executor
	tokens   TokenSource
	env      config.Env

	workspaces *workspace.Manager
	store      runstore.Store
	recorder   metrics.Recorder
	publisher  notify.Publisher
	archive    reportstore.Archive
	now        func() time.Time
	facts      func(ctx context.Context, python string) Facts
}

// NewRunner wires a runner. env supplies the port and runtime detection.
func NewRunner(cfg ConfigSource, fetcher Fetcher, exec Executor, tokens TokenSource, env config.Env, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		fetcher:    fetcher,
		executor:   exec,
		tokens:     tokens,
		env:        env,
		workspaces: workspace.NewManager(""),
		recorder:   metrics.NoopRecorder{},
		publisher:  notify.NoopPublisher{},
		archive:    reportstore.NoopArchive{},
		now:        time.Now,
		facts:      HostFacts,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ExecutionAvailable reports whether notebooks are really executed.
func (r *Runner) ExecutionAvailable() bool { return r.executor.Available() }

// ResolveMode picks the mode: requested, then service.mode, then the runtime.
func (r *Runner) ResolveMode(doc config.Document, requested string) (notebook.Mode, error) {
	if requested != "" {
		return notebook.ParseMode(requested)
	}
	if configured := doc.Service().Mode; configured != "" {
		m, err := notebook.ParseMode(configured)
		if err == nil {
			return m, nil
		}
		slog.Warn("Ignoring invalid service.mode", logfields.Mode(configured))
	}
	if r.env.OnCloudRun() {
		return notebook.ModeCloud, nil
	}
	return notebook.ModeLocal, nil
}

// run carries the state of one request through the stages.
type run struct {
	id       string
	notebook string
	mode     notebook.Mode
	trigger  string
	started  time.Time
	state    State
	report   []byte
	recorded bool
}

// Run executes req to completion. It is not cancelled when ctx is: once started, a
// run always reaches DONE.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	ctx = context.WithoutCancel(ctx)
	rn := &run{id: uuid.NewString(), trigger: req.Trigger, started: r.now(), state: StatePending}
	if rn.trigger == "" {
		rn.trigger = TriggerHTTP
	}

	r.recorder.AddRunsInFlight(1)
	defer r.recorder.AddRunsInFlight(-1)

	slog.Info("Notebook run started", logfields.RunID(rn.id), slog.String("trigger", rn.trigger))
	res := r.execute(ctx, rn, req)
	res.RunID = rn.id
	res.Mode = rn.mode
	res.Duration = r.now().Sub(rn.started)
	r.transition(ctx, rn, StateDone, res.Message)
	res.State = rn.state
	r.complete(ctx, rn, res)
	return res
}

func (r *Runner) execute(ctx context.Context, rn *run, req Request) Result {
	doc := r.cfg.Load()
	gh := doc.GitHub()

	mode, err := r.ResolveMode(doc, req.Mode)
	if err != nil {
		r.record(ctx, rn, nil)
		return r.fail(rn, StageValidate, err)
	}
	rn.mode = mode
	rn.notebook = req.NotebookPath
	if rn.notebook == "" {
		rn.notebook = gh.NotebookPath
	}
	if !filepath.IsLocal(filepath.FromSlash(rn.notebook)) {
		r.record(ctx, rn, nil)
		return r.fail(rn, StageValidate, ferrors.ValidationError("notebook path must be relative to the repository").
			WithContext("notebook_path", rn.notebook).
			Build())
	}

	token, _ := r.tokens.Resolve(ctx)
	year := r.now().Year()
	in := ParameterInput{
		Mode:       mode,
		Year:       year,
		Port:       r.env.Port,
		TargetRepo: gh.TargetRepo,
		Token:      token,
		Overrides:  req.Parameters,
		Steps:      req.Steps,
	}
	if mode == notebook.ModeLocal {
		in.Facts = r.facts(ctx, r.executor.InterpreterVersion(ctx))
	}
	params := BuildParameters(in)
	r.record(ctx, rn, Redacted(params))

	if !r.executor.Available() {
		slog.Warn("Notebook engine unavailable, simulating run", logfields.RunID(rn.id))
		sim := executor.Simulate()
		return Result{Status: runstore.StatusSuccess, Message: sim.Message, Simulated: true}
	}

	scope, err := r.workspaces.Acquire("run")
	if err != nil {
		return r.fail(rn, StageClone, ferrors.FileSystemError("failed to create working directory").WithCause(err).Build())
	}
	if req.KeepWorkDir {
		scope.Keep()
	}
	defer func() {
		if err := scope.Release(); err != nil {
			slog.Warn("Working directory not removed", logfields.RunID(rn.id), logfields.Path(scope.Path()), logfields.Error(err))
		}
	}()

	repoDir, err := scope.Subdir("repo")
	if err != nil {
		return r.fail(rn, StageClone, ferrors.FileSystemError("failed to create clone directory").WithCause(err).Build())
	}
	if err := r.stage(rn, StageClone, func() error {
		return r.fetcher.Clone(ctx, gh.SourceRepoURL, repoDir, token)
	}); err != nil {
		return r.fail(rn, StageClone, err)
	}
	commit, herr := r.fetcher.HeadCommit(repoDir)
	if herr != nil {
		slog.Debug("Clone commit unknown", logfields.RunID(rn.id), logfields.Error(herr))
	}
	r.transition(ctx, rn, StateCloned, strings.TrimSpace(gh.SourceRepoURL+" "+commit))

	source := filepath.Join(repoDir, filepath.FromSlash(rn.notebook))
	prepared := scope.Join(string(mode) + "_notebook.ipynb")
	var rep notebook.Report
	if err := r.stage(rn, StageTransform, func() error {
		var terr error
		rep, terr = notebook.TransformFile(source, prepared, mode)
		return terr
	}); err != nil {
		return r.fail(rn, StageTransform, err)
	}
	r.transition(ctx, rn, StateTransformed, fmt.Sprintf("%d cells, %d dropped, %d retargeted, %d missed",
		rep.OutputCells, len(rep.Dropped), len(rep.Retargeted), len(rep.Missed)))

	output := scope.Join("output.ipynb")
	r.transition(ctx, rn, StateExecuting, "")
	execErr := r.stage(rn, StageExecute, func() error {
		return r.executor.Execute(ctx, prepared, output, params)
	})
	if execErr != nil {
		r.transition(ctx, rn, StateExecutionFailed, describe(execErr))
	} else {
		r.transition(ctx, rn, StateExecuted, "")
	}

	// The partially executed notebook is rendered too, for the run history.
	report, renderErr := r.render(rn, output)
	res := Result{Transform: &rep, Render: RenderRendered, Commit: commit}
	if req.KeepWorkDir {
		res.WorkDir = scope.Path()
	}
	if renderErr != nil {
		res.Render = RenderSkipped
		r.transition(ctx, rn, StateRenderSkipped, describe(renderErr))
	} else {
		res.Fingerprint = notebook.Fingerprint(report)
		res.ReportURL = r.archiveReport(ctx, rn, params, report)
		r.transition(ctx, rn, StateRendered, res.Fingerprint)
	}
	rn.report = report

	if execErr != nil {
		failed := r.fail(rn, StageExecute, execErr)
		failed.Transform, failed.Render, failed.Fingerprint, failed.ReportURL = res.Transform, res.Render, res.Fingerprint, res.ReportURL
		return failed
	}
	res.Status = runstore.StatusSuccess
	res.Message = SuccessMessage
	return res
}

// stage times fn and records its result.
func (r *Runner) stage(rn *run, name Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	dur := time.Since(start)
	r.recorder.ObserveStageDuration(string(name), dur)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailed
	}
	r.recorder.IncStageResult(string(name), result)
	slog.Debug("Stage finished",
		logfields.RunID(rn.id),
		logfields.Stage(string(name)),
		logfields.DurationMS(float64(dur.Milliseconds())),
		logfields.Error(err))
	return err
}

func (r *Runner) render(rn *run, output string) ([]byte, error) {
	var report []byte
	err := r.stage(rn, StageRender, func() error {
		if _, err := os.Stat(output); err != nil {
			return ferrors.RenderError("no executed notebook to render").WithCause(err).Build()
		}
		doc, err := notebook.ReadFile(output)
		if err != nil {
			return ferrors.RenderError("failed to read executed notebook").WithCause(err).Build()
		}
		report, err = notebook.Render(doc, notebook.RenderOptions{Title: fmt.Sprintf("%s (%s)", rn.notebook, rn.id)})
		return err
	})
	if err != nil {
		slog.Warn("Report rendering skipped", logfields.RunID(rn.id), logfields.Error(err))
		return nil, err
	}
	return report, nil
}

func (r *Runner) archiveReport(ctx context.Context, rn *run, params map[string]any, report []byte) string {
	folder, _ := params[notebook.ParamTargetFolder].(string)
	var url string
	err := r.stage(rn, StageArchive, func() error {
		var perr error
		url, perr = r.archive.Put(ctx, reportstore.ReportKey(folder, rn.id), report, "text/html; charset=utf-8")
		return perr
	})
	if err != nil {
		slog.Warn("Report not archived", logfields.RunID(rn.id), logfields.Error(err))
		return ""
	}
	return url
}

func (r *Runner) fail(rn *run, stage Stage, err error) Result {
	msg := fmt.Sprintf("Notebook %s failed: %s", stage, describe(err))
	slog.Error("Notebook run failed", logfields.RunID(rn.id), logfields.Stage(string(stage)), logfields.Error(err))
	return Result{Status: runstore.StatusError, Message: msg, FailedStage: stage, Err: err}
}

// describe is the error text shown to callers, without classification prefixes.
func describe(err error) string {
	if ce, ok := ferrors.AsClassified(err); ok {
		return ce.UserMessage()
	}
	return err.Error()
}

// record creates the run history entry once the notebook and mode are known.
func (r *Runner) record(ctx context.Context, rn *run, params map[string]any) {
	if r.store == nil || rn.recorded {
		return
	}
	err := r.store.Create(ctx, runstore.Run{
		ID:         rn.id,
		Notebook:   rn.notebook,
		Mode:       string(rn.mode),
		Trigger:    rn.trigger,
		State:      string(rn.state),
		Status:     runstore.StatusRunning,
		Parameters: params,
		StartedAt:  rn.started,
	})
	if err != nil {
		slog.Warn("Run not recorded", logfields.RunID(rn.id), logfields.Error(err))
		return
	}
	rn.recorded = true
}

func (r *Runner) transition(ctx context.Context, rn *run, to State, detail string) {
	slog.Info("Run state changed",
		logfields.RunID(rn.id),
		slog.String("from", string(rn.state)),
		slog.String("to", string(to)))
	rn.state = to
	if r.store == nil || !rn.recorded {
		return
	}
	if err := r.store.AppendEvent(ctx, rn.id, string(to), detail); err != nil {
		slog.Warn("Run event not recorded", logfields.RunID(rn.id), logfields.Error(err))
	}
}

// complete stores the outcome, observes it and publishes it.
func (r *Runner) complete(ctx context.Context, rn *run, res Result) {
	r.recorder.ObserveRunDuration(res.Duration)
	r.recorder.IncRunOutcome(res.Status)

	if r.store != nil && rn.recorded {
		err := r.store.Finish(ctx, rn.id, runstore.Outcome{
			Status:      res.Status,
			Message:     res.Message,
			Report:      rn.report,
			Fingerprint: res.Fingerprint,
			ReportURL:   res.ReportURL,
		})
		if err != nil {
			slog.Warn("Run outcome not recorded", logfields.RunID(rn.id), logfields.Error(err))
		}
	}

	finished := r.now()
	ev := notify.RunEvent{
		RunID:       rn.id,
		Notebook:    rn.notebook,
		Mode:        string(rn.mode),
		Trigger:     rn.trigger,
		Status:      res.Status,
		State:       string(res.State),
		Message:     res.Message,
		ReportURL:   res.ReportURL,
		Fingerprint: res.Fingerprint,
		StartedAt:   rn.started,
		FinishedAt:  finished,
		DurationMS:  res.Duration.Milliseconds(),
	}
	if err := r.publisher.PublishRun(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Run event not published", logfields.RunID(rn.id), logfields.Error(err))
	}

	slog.Info("Notebook run finished",
		logfields.RunID(rn.id),
		logfields.Mode(string(rn.mode)),
		logfields.Notebook(rn.notebook),
		slog.String("status", res.Status),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))
}
