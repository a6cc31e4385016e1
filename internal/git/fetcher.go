package git

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
	"git.home.luguber.info/inful/nbrunner/internal/retry"
)

// Fetcher clones repositories and fast-forwards working copies.
type Fetcher struct {
	// Progress receives go-git progress output; nil discards it.
	Progress io.Writer
	// Retry applies to network failures. The zero value tries once.
	Retry retry.Policy
}

// NewFetcher returns a Fetcher that discards progress output and retries
// network failures with the default policy.
func NewFetcher() *Fetcher { return &Fetcher{Retry: retry.DefaultPolicy()} }

// Clone performs a full clone of url into dest. dest must be absent or an empty directory.
// token, when non-empty, is sent as HTTP basic auth password.
func (f *Fetcher) Clone(ctx context.Context, url, dest, token string) error {
	if err := ensureEmpty(dest); err != nil {
		return err
	}

	start := time.Now()
	slog.Debug("Cloning repository", logfields.URL(url), logfields.Path(dest))
	var repo *git.Repository
	err := f.Retry.Do(ctx, "clone", func() error {
		var cerr error
		repo, cerr = git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
			URL:      url,
			Auth:     tokenAuth(token),
			Progress: f.Progress,
		})
		return classify(cerr, "clone", url)
	}, func() error {
		// A failed attempt can leave a partial checkout behind.
		return os.RemoveAll(dest)
	})
	if err != nil {
		return err
	}

	attrs := []any{logfields.URL(url), logfields.Path(dest), logfields.DurationMS(float64(time.Since(start).Milliseconds()))}
	if head, herr := repo.Head(); herr == nil {
		attrs = append(attrs, slog.String("commit", shortHash(head.Hash().String())))
	}
	slog.Info("Repository cloned", attrs...)
	return nil
}

// Pull fast-forwards the working copy at dir from its origin remote.
// An already up-to-date working copy is not an error.
func (f *Fetcher) Pull(ctx context.Context, dir, token string) error {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return classify(err, "pull", dir)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return classify(err, "pull", dir)
	}

	upToDate := false
	err = f.Retry.Do(ctx, "pull", func() error {
		perr := wt.PullContext(ctx, &git.PullOptions{
			RemoteName: "origin",
			Auth:       tokenAuth(token),
			Progress:   f.Progress,
		})
		if errors.Is(perr, git.NoErrAlreadyUpToDate) {
			upToDate = true
			return nil
		}
		return classify(perr, "pull", dir)
	}, nil)
	if err != nil {
		return err
	}
	if upToDate {
		slog.Info("Working copy already up to date", logfields.Path(dir))
		return nil
	}

	if head, herr := repo.Head(); herr == nil {
		slog.Info("Working copy updated", logfields.Path(dir), slog.String("commit", shortHash(head.Hash().String())))
	}
	return nil
}

// HeadCommit returns the commit hash HEAD points to in the repository at dir.
func (f *Fetcher) HeadCommit(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func tokenAuth(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	// GitHub and GitLab accept any username with a token password.
	return &http.BasicAuth{Username: "token", Password: token}
}

func ensureEmpty(dest string) error {
	entries, err := os.ReadDir(dest)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return ferrors.FetchError("clone destination unreadable").
			WithCause(err).
			WithContext("path", dest).
			WithContext(reasonKey, string(ReasonDestinationNotEmpty)).
			Build()
	case len(entries) > 0:
		return ferrors.FetchError("clone destination is not empty").
			WithContext("path", dest).
			WithContext(reasonKey, string(ReasonDestinationNotEmpty)).
			Build()
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
