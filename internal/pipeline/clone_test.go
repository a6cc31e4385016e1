package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	"git.home.luguber.info/inful/nbrunner/internal/git"
	"git.home.luguber.info/inful/nbrunner/internal/workspace"
)

// bareRepoWithNotebook returns a bare repository whose default branch holds
// run/notebook.ipynb.
func bareRepoWithNotebook(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	bare := filepath.Join(tmp, "remote.git")
	_, err := gogit.PlainInit(bare, true)
	require.NoError(t, err)

	seedPath := filepath.Join(tmp, "seed")
	seed, err := gogit.PlainInit(seedPath, false)
	require.NoError(t, err)
	_, err = seed.CreateRemote(&ggitcfg.RemoteConfig{Name: "origin", URLs: []string{bare}})
	require.NoError(t, err)

	nb := filepath.Join(seedPath, "run", "notebook.ipynb")
	require.NoError(t, os.MkdirAll(filepath.Dir(nb), 0o750))
	require.NoError(t, os.WriteFile(nb, []byte(sourceNotebook), 0o600))
	wt, err := seed.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("run/notebook.ipynb")
	require.NoError(t, err)
	_, err = wt.Commit("add notebook", &gogit.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "t@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	require.NoError(t, seed.Push(&gogit.PushOptions{RemoteName: "origin"}))
	return bare
}

func TestRunClonesRealRepository(t *testing.T) {
	bare := bareRepoWithNotebook(t)
	doc := config.Defaults()
	doc[config.SectionGitHub].(map[string]any)["source_repo_url"] = bare

	base := t.TempDir()
	exec := &fakeExecutor{}
	r := NewRunner(staticConfig{doc}, git.NewFetcher(), exec, fakeTokens{}, config.Env{Port: 8100},
		WithWorkspaces(workspace.NewManager(base)),
		WithFacts(func(context.Context, string) Facts { return Facts{} }),
	)

	res := r.Run(context.Background(), Request{})
	require.True(t, res.OK(), res.Message)
	require.NotNil(t, exec.prepared)
	assert.Len(t, exec.prepared.Cells, 4)
	assert.Len(t, res.Commit, 40)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunUnreachableRepository(t *testing.T) {
	doc := config.Defaults()
	doc[config.SectionGitHub].(map[string]any)["source_repo_url"] = filepath.Join(t.TempDir(), "missing.git")

	base := t.TempDir()
	r := NewRunner(staticConfig{doc}, git.NewFetcher(), &fakeExecutor{}, fakeTokens{}, config.Env{},
		WithWorkspaces(workspace.NewManager(base)),
		WithFacts(func(context.Context, string) Facts { return Facts{} }),
	)

	res := r.Run(context.Background(), Request{})
	assert.False(t, res.OK())
	assert.Equal(t, StageClone, res.FailedStage)
	assert.True(t, git.IsFetchError(res.Err))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial clone is left behind")
}
