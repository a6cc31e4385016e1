package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/notebook"
	"git.home.luguber.info/inful/nbrunner/internal/notify"
	"git.home.luguber.info/inful/nbrunner/internal/runstore"
	"git.home.luguber.info/inful/nbrunner/internal/workspace"
)

var sourceNotebook = `{
 "cells": [
  {"cell_type": "markdown", "metadata": {}, "source": "# Daily report"},
  {"cell_type": "code", "metadata": {}, "execution_count": null, "outputs": [],
   "source": ["from google.cloud import secretmanager\n", "def get_github_token():\n", "    return 'x'\n"]},
  {"cell_type": "code", "metadata": {}, "execution_count": null, "outputs": [],
   "source": ["def upload_reports_to_github(repo, token):\n", "    ` + jsonEscape(notebook.UploadPathLiteral) + `\n", "    return file_path\n"]}
 ],
 "metadata": {},
 "nbformat": 4,
 "nbformat_minor": 5
}`

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

type staticConfig struct{ doc config.Document }

func (s staticConfig) Load() config.Document { return s.doc.Clone() }

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	token string
	err   error
}

func (f *fakeFetcher) Clone(_ context.Context, _ string, dest, token string) error {
	f.mu.Lock()
	f.calls++
	f.token = token
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	p := filepath.Join(dest, "run", "notebook.ipynb")
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(sourceNotebook), 0o600)
}

func (f *fakeFetcher) HeadCommit(string) (string, error) { return "abc123", nil }

// fakeExecutor writes the prepared notebook back with a stdout output that echoes
// TARGET_FOLDER on the first code cell after the setup cell.
type fakeExecutor struct {
	unavailable bool
	fail        bool
	noOutput    bool
	params      map[string]any
	prepared    *notebook.Document
}

func (f *fakeExecutor) Available() bool                           { return !f.unavailable }
func (f *fakeExecutor) InterpreterVersion(context.Context) string { return "3.12.1" }

func (f *fakeExecutor) Execute(_ context.Context, nb, out string, params map[string]any) error {
	f.params = params
	doc, err := notebook.ReadFile(nb)
	if err != nil {
		return err
	}
	f.prepared = doc
	if f.noOutput {
		return nil
	}
	folder, _ := params[notebook.ParamTargetFolder].(string)
	doc.Cells[1].Outputs = []json.RawMessage{json.RawMessage(`{"output_type":"stream","name":"stdout","text":"` + folder + `\n"}`)}
	if f.fail {
		doc.Cells[3].Outputs = []json.RawMessage{json.RawMessage(`{"output_type":"error","ename":"NameError","evalue":"name 'x' is not defined","traceback":[]}`)}
	}
	if err := doc.WriteFile(out); err != nil {
		return err
	}
	if f.fail {
		return ferrors.ExecutionError("NameError: name 'x' is not defined").Build()
	}
	return nil
}

type fakeTokens struct{ token string }

func (f fakeTokens) Resolve(context.Context) (string, bool) { return f.token, f.token != "" }

type capturePublisher struct {
	mu     sync.Mutex
	events []notify.RunEvent
}

func (c *capturePublisher) PublishRun(_ context.Context, ev notify.RunEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}
func (c *capturePublisher) Close() error { return nil }

type memArchive struct {
	keys []string
	err  error
}

func (m *memArchive) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.keys = append(m.keys, key)
	return "s3://reports/" + key, nil
}

type harness struct {
	runner    *Runner
	fetcher   *fakeFetcher
	exec      *fakeExecutor
	store     *runstore.SQLiteStore
	publisher *capturePublisher
	archive   *memArchive
	base      string
}

func newHarness(t *testing.T, env config.Env) *harness {
	t.Helper()
	store, err := runstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		fetcher:   &fakeFetcher{},
		exec:      &fakeExecutor{},
		store:     store,
		publisher: &capturePublisher{},
		archive:   &memArchive{},
		base:      t.TempDir(),
	}
	if env.Port == 0 {
		env.Port = 8100
	}
	h.runner = NewRunner(staticConfig{config.Defaults()}, h.fetcher, h.exec, fakeTokens{"secret-token"}, env,
		WithRunStore(store),
		WithPublisher(h.publisher),
		WithArchive(h.archive),
		WithWorkspaces(workspace.NewManager(h.base)),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }),
		WithFacts(func(_ context.Context, python string) Facts {
			return Facts{Hostname: "box", IP: "10.0.0.5", Platform: "Linux", PythonVersion: python}
		}),
	)
	return h
}

func (h *harness) assertWorkspaceReleased(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.base)
	require.NoError(t, err)
	assert.Empty(t, entries, "working directory must be removed")
}

func eventStates(t *testing.T, store runstore.Store, id string) []string {
	t.Helper()
	run, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	states := make([]string, 0, len(run.Events))
	for _, e := range run.Events {
		states = append(states, e.State)
	}
	return states
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t, config.Env{})
	res := h.runner.Run(context.Background(), Request{Parameters: map[string]any{"EXTRA": 7}, Steps: []string{"debug"}})

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, SuccessMessage, res.Message)
	assert.Equal(t, notebook.ModeLocal, res.Mode)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, RenderRendered, res.Render)
	assert.Zero(t, res.Duration, "duration is measured on the injected clock")
	assert.Equal(t, "abc123", res.Commit)
	assert.Empty(t, res.WorkDir)
	assert.NotEmpty(t, res.Fingerprint)
	assert.Equal(t, "s3://reports/2026-local/"+res.RunID+".html", res.ReportURL)
	require.NotNil(t, res.Transform)
	assert.Equal(t, 4, res.Transform.OutputCells)
	assert.Equal(t, []int{1}, res.Transform.Dropped)
	assert.Equal(t, []int{2}, res.Transform.Retargeted)

	assert.Equal(t, "secret-token", h.fetcher.token)
	p := h.exec.params
	assert.Equal(t, "2026-local", p[notebook.ParamTargetFolder])
	assert.Equal(t, true, p[notebook.ParamLocalExecution])
	assert.Equal(t, "secret-token", p[notebook.ParamGitHubToken])
	assert.Equal(t, "http://localhost:8100", p[notebook.ParamLocalServerURL])
	assert.Equal(t, "3.12.1", p[notebook.ParamPythonVersion])
	assert.Equal(t, 7, p["EXTRA"])
	assert.Equal(t, []string{"debug"}, p[notebook.ParamSteps])

	require.NotNil(t, h.exec.prepared)
	assert.True(t, h.exec.prepared.Cells[0].HasTag(notebook.TagParameters))

	assert.Equal(t, []string{"CLONED", "TRANSFORMED", "EXECUTING", "EXECUTED", "RENDERED", "DONE"}, eventStates(t, h.store, res.RunID))
	run, err := h.store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusSuccess, run.Status)
	assert.Equal(t, "***", run.Parameters[notebook.ParamGitHubToken])
	assert.Equal(t, TriggerHTTP, run.Trigger)

	report, err := h.store.Report(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Contains(t, string(report), "2026-local")

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, runstore.StatusSuccess, h.publisher.events[0].Status)
	assert.Equal(t, "DONE", h.publisher.events[0].State)

	h.assertWorkspaceReleased(t)
}

func TestRunCloneFailure(t *testing.T) {
	h := newHarness(t, config.Env{})
	h.fetcher.err = ferrors.FetchError("repository not found").Build()

	res := h.runner.Run(context.Background(), Request{})
	assert.False(t, res.OK())
	assert.Equal(t, StageClone, res.FailedStage)
	assert.Equal(t, "Notebook clone failed: repository not found", res.Message)
	assert.Equal(t, StateDone, res.State)
	assert.Nil(t, h.exec.params, "executor must not run")
	assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryGit))
	assert.Equal(t, []string{"DONE"}, eventStates(t, h.store, res.RunID))
	h.assertWorkspaceReleased(t)
}

func TestRunExecutionFailureStillRenders(t *testing.T) {
	h := newHarness(t, config.Env{})
	h.exec.fail = true

	res := h.runner.Run(context.Background(), Request{})
	assert.False(t, res.OK())
	assert.Equal(t, StageExecute, res.FailedStage)
	assert.Contains(t, res.Message, "NameError")
	assert.Equal(t, RenderRendered, res.Render)
	assert.Equal(t, []string{"CLONED", "TRANSFORMED", "EXECUTING", "EXECUTION_FAILED", "RENDERED", "DONE"}, eventStates(t, h.store, res.RunID))

	run, err := h.store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusError, run.Status)
	h.assertWorkspaceReleased(t)
}

func TestRunRenderSkippedIsSuccess(t *testing.T) {
	h := newHarness(t, config.Env{})
	h.exec.noOutput = true

	res := h.runner.Run(context.Background(), Request{})
	require.True(t, res.OK())
	assert.Equal(t, RenderSkipped, res.Render)
	assert.Empty(t, res.Fingerprint)
	assert.Empty(t, h.archive.keys)
	assert.Contains(t, eventStates(t, h.store, res.RunID), "RENDER_SKIPPED")
}

func TestRunArchiveFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, config.Env{})
	h.archive.err = errors.New("bucket gone")

	res := h.runner.Run(context.Background(), Request{})
	require.True(t, res.OK())
	assert.Empty(t, res.ReportURL)
	assert.NotEmpty(t, res.Fingerprint)
}

func TestRunSimulatedWhenEngineMissing(t *testing.T) {
	h := newHarness(t, config.Env{})
	h.exec.unavailable = true

	res := h.runner.Run(context.Background(), Request{})
	require.True(t, res.OK())
	assert.True(t, res.Simulated)
	assert.Zero(t, h.fetcher.calls)
	assert.Equal(t, []string{"DONE"}, eventStates(t, h.store, res.RunID))
}

func TestRunRejectsEscapingNotebookPath(t *testing.T) {
	h := newHarness(t, config.Env{})

	res := h.runner.Run(context.Background(), Request{NotebookPath: "../outside.ipynb"})
	assert.False(t, res.OK())
	assert.Equal(t, StageValidate, res.FailedStage)
	assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryValidation))
	assert.Zero(t, h.fetcher.calls)
}

func TestRunMissingNotebookFailsTransform(t *testing.T) {
	h := newHarness(t, config.Env{})

	res := h.runner.Run(context.Background(), Request{NotebookPath: "nope/missing.ipynb"})
	assert.False(t, res.OK())
	assert.Equal(t, StageTransform, res.FailedStage)
	assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryNotFound))
	h.assertWorkspaceReleased(t)
}

func TestRunCloudMode(t *testing.T) {
	h := newHarness(t, config.Env{CloudRunService: "nbrunner"})

	res := h.runner.Run(context.Background(), Request{})
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, notebook.ModeCloud, res.Mode)

	p := h.exec.params
	assert.Equal(t, "2026-cloud", p[notebook.ParamTargetFolder])
	assert.Equal(t, false, p[notebook.ParamLocalExecution])
	assert.Equal(t, "", p[notebook.ParamGitHubToken])
	assert.Equal(t, EnvironmentCloud, p[notebook.ParamExecutionEnvironment])
	assert.NotContains(t, p, notebook.ParamLocalHostname)
	assert.Equal(t, "secret-token", h.fetcher.token, "clone still authenticates")
}

func TestRunContinuesAfterCallerCancels(t *testing.T) {
	h := newHarness(t, config.Env{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.runner.Run(ctx, Request{})
	assert.True(t, res.OK(), res.Message)
}

func TestResolveMode(t *testing.T) {
	r := NewRunner(staticConfig{}, &fakeFetcher{}, &fakeExecutor{}, fakeTokens{}, config.Env{})
	cloudRunner := NewRunner(staticConfig{}, &fakeFetcher{}, &fakeExecutor{}, fakeTokens{}, config.Env{CloudRunService: "svc"})
	withService := config.Document{config.SectionService: map[string]any{"mode": "cloud"}}
	badService := config.Document{config.SectionService: map[string]any{"mode": "mars"}}

	tests := []struct {
		name      string
		runner    *Runner
		doc       config.Document
		requested string
		want      notebook.Mode
		wantErr   bool
	}{
		{"default local", r, config.Document{}, "", notebook.ModeLocal, false},
		{"runtime marker", cloudRunner, config.Document{}, "", notebook.ModeCloud, false},
		{"service section", r, withService, "", notebook.ModeCloud, false},
		{"request wins", cloudRunner, withService, "LOCAL", notebook.ModeLocal, false},
		{"invalid service falls back", r, badService, "", notebook.ModeLocal, false},
		{"invalid request", r, config.Document{}, "mars", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.runner.ResolveMode(tt.doc, tt.requested)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunKeepsWorkDirOnRequest(t *testing.T) {
	h := newHarness(t, config.Env{})
	res := h.runner.Run(context.Background(), Request{KeepWorkDir: true})

	require.True(t, res.OK(), res.Message)
	require.NotEmpty(t, res.WorkDir)
	assert.FileExists(t, filepath.Join(res.WorkDir, "output.ipynb"))
	assert.DirExists(t, filepath.Join(res.WorkDir, "repo", "run"))
}
