package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/notebook"
)

// fakeRunner stands in for papermill: it reads the parameters file and writes an
// executed notebook whose single output echoes TARGET_FOLDER.
type fakeRunner struct {
	available bool
	failWith  string
	version   string
	calls     [][]string
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if !f.available {
		return "", exec.ErrNotFound
	}
	return "/usr/bin/" + name, nil
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if name == "python3" {
		if f.version == "" {
			return nil, nil, exec.ErrNotFound
		}
		return []byte(f.version), nil, nil
	}

	out := args[1]
	raw, err := os.ReadFile(args[3])
	if err != nil {
		return nil, nil, err
	}
	var params map[string]any
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return nil, nil, err
	}

	output := `{"output_type": "stream", "name": "stdout", "text": "folder=` + params["TARGET_FOLDER"].(string) + `\n"}`
	if f.failWith != "" {
		output = `{"output_type": "error", "ename": "RuntimeError", "evalue": "` + f.failWith + `", "traceback": []}`
	}
	nb := `{"nbformat": 4, "nbformat_minor": 5, "metadata": {}, "cells": [
	  {"cell_type": "code", "execution_count": 1, "metadata": {}, "source": "print(TARGET_FOLDER)", "outputs": [` + output + `]}]}`
	if err := os.WriteFile(out, []byte(nb), 0o600); err != nil {
		return nil, nil, err
	}
	if f.failWith != "" {
		return nil, []byte("papermill.exceptions.PapermillExecutionError\n"), errors.New("exit status 1")
	}
	return []byte("done"), nil, nil
}

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	src := &notebook.Document{NBFormat: 4, Cells: []*notebook.Cell{notebook.NewCodeCell("print(TARGET_FOLDER)")}}
	out, _ := notebook.Transform(src, notebook.ModeLocal)
	path := filepath.Join(dir, "input.ipynb")
	require.NoError(t, out.WriteFile(path))
	return path
}

func TestExecuteInjectsParameters(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir)
	out := filepath.Join(dir, "output.ipynb")
	fr := &fakeRunner{available: true}
	p := &Papermill{Binary: "papermill", Python: "python3", Kernel: "python3", Runner: fr}

	err := p.Execute(context.Background(), in, out, map[string]any{"TARGET_FOLDER": "custom-folder", "EXTRA": 1})
	require.NoError(t, err)

	require.Len(t, fr.calls, 1)
	args := fr.calls[0]
	assert.Equal(t, "papermill", args[0])
	assert.Equal(t, []string{in, out, "-f"}, args[1:4])
	assert.Contains(t, strings.Join(args, " "), "-k python3")

	doc, err := notebook.ReadFile(out)
	require.NoError(t, err)
	outputs := doc.Cells[0].DecodedOutputs()
	require.Len(t, outputs, 1)
	assert.Equal(t, "folder=custom-folder\n", outputs[0].Text.String())

	_, err = os.Stat(out + ".params.yaml")
	assert.True(t, os.IsNotExist(err), "parameters file is removed")
}

func TestExecuteFailureCarriesCellError(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir)
	out := filepath.Join(dir, "output.ipynb")
	p := &Papermill{Binary: "papermill", Runner: &fakeRunner{available: true, failWith: "division by zero"}}

	err := p.Execute(context.Background(), in, out, map[string]any{"TARGET_FOLDER": "x"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryExecution))
	assert.Contains(t, err.Error(), "RuntimeError: division by zero")

	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	ename, _ := ce.Context().GetString("ename")
	assert.Equal(t, "RuntimeError", ename)
	stderr, _ := ce.Context().GetString("stderr")
	assert.Contains(t, stderr, "PapermillExecutionError")

	_, statErr := os.Stat(out)
	assert.NoError(t, statErr, "partial output remains")
}

func TestAvailable(t *testing.T) {
	assert.True(t, (&Papermill{Binary: "papermill", Runner: &fakeRunner{available: true}}).Available())
	assert.False(t, (&Papermill{Binary: "papermill", Runner: &fakeRunner{}}).Available())
}

func TestInterpreterVersion(t *testing.T) {
	p := &Papermill{Python: "python3", Runner: &fakeRunner{version: "Python 3.12.4\n"}}
	assert.Equal(t, "3.12.4", p.InterpreterVersion(context.Background()))

	p = &Papermill{Python: "python3", Runner: &fakeRunner{}}
	assert.Equal(t, "", p.InterpreterVersion(context.Background()))
}

func TestSimulate(t *testing.T) {
	r := Simulate()
	assert.True(t, r.Simulated)
	assert.Equal(t, SimulatedMessage, r.Message)
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "c\nd", lastLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, "", lastLines("", 3))
}

// TestPapermillIntegration runs the real engine when it is installed.
func TestPapermillIntegration(t *testing.T) {
	p := NewPapermill()
	if !p.Available() {
		t.Skip("papermill not installed")
	}
	dir := t.TempDir()
	src := &notebook.Document{NBFormat: 4, NBFormatMinor: 5, Metadata: map[string]any{
		"kernelspec": map[string]any{"name": "python3", "display_name": "Python 3", "language": "python"},
	}, Cells: []*notebook.Cell{
		notebook.NewCodeCell("TARGET_FOLDER = \"\"\n", notebook.TagParameters),
		notebook.NewCodeCell("print(f\"folder={TARGET_FOLDER}\")"),
	}}
	in := filepath.Join(dir, "in.ipynb")
	out := filepath.Join(dir, "out.ipynb")
	require.NoError(t, src.WriteFile(in))

	require.NoError(t, p.Execute(context.Background(), in, out, map[string]any{"TARGET_FOLDER": "override-2025"}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "folder=override-2025")
}
