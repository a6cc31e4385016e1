package notebook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
)

const sampleNotebook = `{
 "cells": [
  {"cell_type": "markdown", "metadata": {"tags": ["step:intro"]}, "source": ["# Title\n", "Some *text*"]},
  {"cell_type": "code", "id": "c1", "execution_count": 3, "metadata": {"tags": ["parameters", "step:load"]},
   "source": "OLD = 1\n",
   "outputs": [{"output_type": "stream", "name": "stdout", "text": ["hi\n"], "x_custom": {"keep": true}}]},
  {"cell_type": "code", "execution_count": null, "metadata": {"tags": ["step:load"]}, "source": "print(2)", "outputs": []}
 ],
 "metadata": {"kernelspec": {"name": "python3"}},
 "nbformat": 4,
 "nbformat_minor": 4
}`

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	doc, err := Parse([]byte(s))
	require.NoError(t, err)
	return doc
}

func TestParseAndEncodeRoundTrip(t *testing.T) {
	doc := mustParse(t, sampleNotebook)
	require.Len(t, doc.Cells, 3)
	assert.Equal(t, "# Title\nSome *text*", doc.Cells[0].Source.String())
	assert.Equal(t, 3, *doc.Cells[1].ExecutionCount)
	assert.Nil(t, doc.Cells[2].ExecutionCount)

	data, err := doc.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"x_custom"`)

	again := mustParse(t, string(data))
	assert.Equal(t, doc.Cells[1].Source, again.Cells[1].Source)
	assert.JSONEq(t, string(doc.Cells[1].Outputs[0]), string(again.Cells[1].Outputs[0]))
}

func TestParseRejectsOtherFormats(t *testing.T) {
	_, err := Parse([]byte(`{"cells": [], "nbformat": 3}`))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryTransform))

	_, err = Parse([]byte(`not json`))
	require.Error(t, err)
}

func TestReadFileErrorsCarryPath(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.ipynb")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))

	_, err := ReadFile(bad)
	require.Error(t, err)
	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CategoryTransform, ce.Category())
	p, _ := ce.Context().GetString("path")
	assert.Equal(t, bad, p)

	_, err = ReadFile(filepath.Join(dir, "missing.ipynb"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestCellEncodingByKind(t *testing.T) {
	data, err := json.Marshal(NewMarkdownCell("x"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "outputs")
	assert.NotContains(t, string(data), "execution_count")

	data, err = json.Marshal(NewCodeCell("y"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"outputs":[]`)
	assert.Contains(t, string(data), `"execution_count":null`)
}

func TestSourceLines(t *testing.T) {
	assert.Equal(t, []string{"a\n", "b\n", "c"}, Source("a\nb\nc").Lines())
	assert.Equal(t, []string{}, Source("").Lines())
	assert.Equal(t, []string{"only\n"}, Source("only\n").Lines())
}

func TestSteps(t *testing.T) {
	doc := mustParse(t, sampleNotebook)
	assert.Equal(t, []string{"intro", "load"}, doc.Steps())
	assert.Equal(t, []string{}, (&Document{}).Steps())
}

func TestTagsHelpers(t *testing.T) {
	c := NewCodeCell("x", "a", "b", "a")
	assert.True(t, c.HasTag("a"))
	assert.True(t, c.RemoveTag("a"))
	assert.Equal(t, []string{"b"}, c.Tags())
	assert.False(t, c.RemoveTag("zzz"))
	c.RemoveTag("b")
	_, ok := c.Metadata["tags"]
	assert.False(t, ok)
}

func TestTransformLocalLayout(t *testing.T) {
	src := mustParse(t, sampleNotebook)
	out, rep := Transform(src, ModeLocal)

	require.Len(t, out.Cells, 5)
	assert.Equal(t, []int{0}, out.ParametersCells(), "exactly one parameters cell and it is first")
	assert.Equal(t, ModeLocal.ParameterNames(), out.DeclaredParameters())
	assert.Equal(t, 1, rep.StrippedTags)
	assert.True(t, out.Cells[3].HasTag("step:load"), "other tags survive")

	assert.Equal(t, 4, out.NBFormat)
	assert.Equal(t, 5, out.NBFormatMinor)
	ks := out.Metadata["kernelspec"].(map[string]any)
	assert.Equal(t, "python3", ks["name"])
	li := out.Metadata["language_info"].(map[string]any)
	assert.Equal(t, "3.12.0", li["version"])

	ids := map[string]bool{}
	for _, c := range out.Cells {
		require.NotEmpty(t, c.ID)
		assert.False(t, ids[c.ID], "cell ids are unique")
		ids[c.ID] = true
	}

	assert.True(t, src.Cells[1].HasTag(TagParameters), "source is not modified")
}

func TestTransformCloudParameters(t *testing.T) {
	out, rep := Transform(mustParse(t, sampleNotebook), ModeCloud)
	assert.Equal(t, []string{"LOCAL_EXECUTION", "GITHUB_TOKEN", "TARGET_REPO", "TARGET_FOLDER", "EXECUTION_ENVIRONMENT", "CURRENT_YEAR"},
		out.DeclaredParameters())
	assert.Equal(t, ModeCloud, rep.Mode)
	assert.NotContains(t, out.Cells[1].Source.String(), "LOCAL_HOSTNAME")
	assert.Contains(t, out.Cells[1].Source.String(), `f"{CURRENT_YEAR}-cloud"`)
}

func TestTransformParameterDefaults(t *testing.T) {
	out, _ := Transform(&Document{NBFormat: 4}, ModeLocal)
	src := out.Cells[0].Source.String()
	assert.Contains(t, src, "LOCAL_EXECUTION = False\n")
	assert.Contains(t, src, "CURRENT_YEAR = 0\n")
	assert.Contains(t, src, `PYTHON_VERSION = ""`)
	assert.Len(t, out.Cells, 2)
}

func TestTransformDropsStaleInjectedParameters(t *testing.T) {
	src := &Document{NBFormat: 4, Cells: []*Cell{
		NewCodeCell("TARGET_FOLDER = \"2024-local\"\n", TagInjectedParameters),
		NewCodeCell("print(TARGET_FOLDER)\n"),
	}}
	out, rep := Transform(src, ModeLocal)
	assert.Equal(t, []int{0}, rep.Dropped)
	require.Len(t, out.Cells, 3)
	for _, c := range out.Cells {
		assert.False(t, c.HasTag(TagInjectedParameters))
	}
}

func TestTransformDropsCredentialCells(t *testing.T) {
	src := &Document{NBFormat: 4, Cells: []*Cell{
		NewMarkdownCell("intro"),
		NewCodeCell("from google.cloud import secretmanager\n"),
		NewCodeCell("x = 1"),
	}}
	out, rep := Transform(src, ModeLocal)
	assert.Len(t, out.Cells, 4)
	assert.Equal(t, []int{1}, rep.Dropped)
}

func TestTransformSingleCredentialDefinition(t *testing.T) {
	src := &Document{NBFormat: 4, Cells: []*Cell{
		NewCodeCell("def get_github_token():\n    return 'x'\n"),
		NewCodeCell("GITHUB_TOKEN = get_github_token()\n"),
		NewCodeCell("token = fetch()", TagCredentials),
		NewMarkdownCell("def get_github_token(): is described here"),
		NewCodeCell("print('keep')"),
	}}
	for _, mode := range []Mode{ModeLocal, ModeCloud} {
		out, rep := Transform(src, mode)
		defs := 0
		for _, c := range out.Cells {
			if c.Type == CellCode {
				defs += strings.Count(c.Source.String(), "def get_github_token():")
			}
		}
		assert.Equal(t, 1, defs, string(mode))
		assert.Equal(t, []int{0, 1, 2}, rep.Dropped, string(mode))
		assert.Len(t, out.Cells, 4, string(mode))
	}
}

func TestTransformBareSecretImportOnlyDroppedLocally(t *testing.T) {
	src := &Document{NBFormat: 4, Cells: []*Cell{NewCodeCell("import secretmanager\n")}}
	_, local := Transform(src, ModeLocal)
	_, cloud := Transform(src, ModeCloud)
	assert.Equal(t, []int{0}, local.Dropped)
	assert.Empty(t, cloud.Dropped)
}

func TestTransformUploadSubstitution(t *testing.T) {
	exact := "def upload_reports_to_github(repo, token):\n    " + UploadPathLiteral + "\n    push(file_path)\n"
	nearMiss := "def upload_reports_to_github(repo, token):\n" +
		`    file_path = f"reports/execution-{datetime.now().strftime("%Y%m%d-%H%M%S")}.md"` + "\n"
	tagged := "def push_all():\n    " + UploadPathLiteral + "\n"

	src := &Document{NBFormat: 4, Cells: []*Cell{
		NewCodeCell(exact),
		NewCodeCell(nearMiss),
		NewCodeCell(tagged, TagUploadReports),
	}}
	out, rep := Transform(src, ModeLocal)

	assert.Equal(t, []int{0, 2}, rep.Retargeted)
	assert.Equal(t, []int{1}, rep.Missed)
	assert.Contains(t, out.Cells[2].Source.String(), UploadPathReplacement)
	assert.NotContains(t, out.Cells[2].Source.String(), UploadPathLiteral)
	assert.Equal(t, nearMiss, out.Cells[3].Source.String(), "near miss left unchanged")
	assert.Contains(t, out.Cells[4].Source.String(), UploadPathReplacement)
}

func TestTransformFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.ipynb")
	out := filepath.Join(dir, "out.ipynb")
	require.NoError(t, os.WriteFile(in, []byte(sampleNotebook), 0o600))

	rep, err := TransformFile(in, out, ModeCloud)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.OutputCells)

	doc, err := ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, doc.Cells, 5)

	_, err = TransformFile(filepath.Join(dir, "missing.ipynb"), out, ModeLocal)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Cloud ")
	require.NoError(t, err)
	assert.Equal(t, ModeCloud, m)

	_, err = ParseMode("mars")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestDeclaredParametersIgnoresComparisons(t *testing.T) {
	doc := &Document{Cells: []*Cell{NewCodeCell("A = 1\nif A == 2:\n    pass\nB=\"x\"\n  C = 3\n", TagParameters)}}
	assert.Equal(t, []string{"A", "B"}, doc.DeclaredParameters())
	assert.Nil(t, (&Document{}).DeclaredParameters())
}

func TestFirstError(t *testing.T) {
	doc := mustParse(t, `{"nbformat": 4, "cells": [
	  {"cell_type": "code", "source": "ok", "outputs": [{"output_type": "stream", "name": "stdout", "text": "fine"}]},
	  {"cell_type": "code", "source": "boom", "outputs": [{"output_type": "error", "ename": "ValueError", "evalue": "bad", "traceback": ["t1"]}]}
	]}`)
	ce, ok := doc.FirstError()
	require.True(t, ok)
	assert.Equal(t, 1, ce.CellIndex)
	assert.Equal(t, "ValueError: bad", ce.String())

	_, ok = mustParse(t, sampleNotebook).FirstError()
	assert.False(t, ok)
}
