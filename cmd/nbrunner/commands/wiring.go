package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	"git.home.luguber.info/inful/nbrunner/internal/credentials"
	"git.home.luguber.info/inful/nbrunner/internal/executor"
	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/git"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
	"git.home.luguber.info/inful/nbrunner/internal/metrics"
	"git.home.luguber.info/inful/nbrunner/internal/notify"
	"git.home.luguber.info/inful/nbrunner/internal/pipeline"
	"git.home.luguber.info/inful/nbrunner/internal/reportstore"
	"git.home.luguber.info/inful/nbrunner/internal/runstore"
	"git.home.luguber.info/inful/nbrunner/internal/workspace"
)

// wiring selects the optional parts of the service graph.
type wiring struct {
	RunsDB  string
	WorkDir string
	Metrics bool
}

// runtimeDeps is the assembled runtime shared by serve and run.
type runtimeDeps struct {
	env      config.Env
	config   *config.Store
	tokens   *credentials.Resolver
	fetcher  *git.Fetcher
	runs     runstore.Store
	registry *prom.Registry
	recorder metrics.Recorder
	runner   *pipeline.Runner

	closers []func() error
}

func newRuntime(ctx context.Context, configPath string, env config.Env, w wiring) (_ *runtimeDeps, err error) {
	s := &runtimeDeps{
		env:      env,
		config:   config.NewStore(configPath),
		fetcher:  git.NewFetcher(),
		recorder: metrics.NoopRecorder{},
	}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	var accessor credentials.SecretAccessor
	if env.GoogleCloudProject != "" {
		gcp := credentials.NewGCPAccessor()
		s.closers = append(s.closers, gcp.Close)
		accessor = gcp
	}
	s.tokens = credentials.FromEnv(env, accessor)

	opts := []pipeline.Option{pipeline.WithWorkspaces(workspace.NewManager(w.WorkDir))}

	if w.RunsDB != "" {
		if err := os.MkdirAll(filepath.Dir(w.RunsDB), 0o750); err != nil {
			return nil, ferrors.FileSystemError("failed to create run history directory").
				WithCause(err).
				WithContext("path", w.RunsDB).
				Build()
		}
		store, err := runstore.NewSQLiteStore(w.RunsDB)
		if err != nil {
			return nil, err
		}
		s.runs = store
		s.closers = append(s.closers, store.Close)
		opts = append(opts, pipeline.WithRunStore(store))
	}

	if w.Metrics {
		s.registry = metrics.NewRegistry()
		s.recorder = metrics.NewPrometheusRecorder(s.registry)
		opts = append(opts, pipeline.WithRecorder(s.recorder))
	}

	if env.NATSURL != "" {
		pub, err := notify.NewNATSPublisher(notify.Options{URL: env.NATSURL, Subject: env.NATSSubject})
		if err != nil {
			slog.Warn("Run events disabled", logfields.Error(err))
		} else {
			s.closers = append(s.closers, pub.Close)
			opts = append(opts, pipeline.WithPublisher(pub))
		}
	}

	archive, err := reportArchive(ctx)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		opts = append(opts, pipeline.WithArchive(archive))
	}

	s.runner = pipeline.NewRunner(s.config, s.fetcher, executor.NewPapermill(), s.tokens, env, opts...)
	return s, nil
}

// reportArchive returns nil when no object store is configured.
func reportArchive(ctx context.Context) (reportstore.Archive, error) {
	cfg, err := reportstore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, nil
	}
	store, err := reportstore.NewMinioStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	slog.Info("Archiving reports", logfields.URL(cfg.Endpoint), slog.String("bucket", cfg.Bucket))
	return store, nil
}

func (s *runtimeDeps) close() {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Shutdown cleanup failed", logfields.Error(err))
	}
}
