package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	"git.home.luguber.info/inful/nbrunner/internal/dashboard"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
	"git.home.luguber.info/inful/nbrunner/internal/metrics"
	"git.home.luguber.info/inful/nbrunner/internal/pipeline"
	"git.home.luguber.info/inful/nbrunner/internal/scheduler"
	"git.home.luguber.info/inful/nbrunner/internal/server/httpserver"
	"git.home.luguber.info/inful/nbrunner/internal/services"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Port      int    `help:"Listen port (overrides PORT)"`
	StaticDir string `name:"static-dir" help:"Directory holding page.html and index.html" default:"./static"`
	RunsDB    string `name:"runs-db" help:"SQLite database for run history" default:"./data/runs.db"`
	WorkDir   string `name:"work-dir" help:"Parent directory for run working directories"`
}

func (c *ServeCmd) Run(_ *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env := environment()
	if c.Port > 0 {
		env.Port = c.Port
	}

	svc, err := newRuntime(ctx, root.Config, env, wiring{RunsDB: c.RunsDB, WorkDir: c.WorkDir, Metrics: true})
	if err != nil {
		return err
	}
	defer svc.close()

	doc := svc.config.Load()
	dash := dashboard.New(doc.Service().DataFile, doc.Service().DensityFile)
	sched, err := newScheduler(doc, svc.runner)
	if err != nil {
		return err
	}

	srv := httpserver.New(httpserver.Options{
		Port:              env.Port,
		UIAccessToken:     env.UIAccessToken,
		StaticDir:         c.StaticDir,
		Config:            svc.config,
		Runner:            svc.runner,
		Puller:            svc.fetcher,
		Tokens:            svc.tokens,
		Backend:           svc.tokens,
		Env:               env,
		Runs:              svc.runs,
		Dashboard:         dash,
		Recorder:          svc.recorder,
		PrometheusHandler: metrics.HTTPHandler(svc.registry),
	})

	orch := services.NewOrchestrator()
	managed := []services.ManagedService{
		services.Background("dashboard-watch", nil, func(ctx context.Context) error {
			if err := dashboard.Watch(ctx, dash.Datasets()...); err != nil {
				slog.Warn("Dashboard files not watched", logfields.Error(err))
			}
			return nil
		}),
		&services.Func{
			ServiceName: "http",
			Deps:        []string{"dashboard-watch"},
			StartFunc: func(ctx context.Context) error {
				return srv.Start(context.WithoutCancel(ctx))
			},
			StopFunc: srv.Stop,
		},
	}
	if sched != nil {
		managed = append(managed, &services.Func{
			ServiceName: "scheduler",
			StartFunc:   func(context.Context) error { sched.Start(); return nil },
			StopFunc:    func(context.Context) error { return sched.Stop() },
		})
	}
	for _, m := range managed {
		if err := orch.Register(m); err != nil {
			return err
		}
	}
	if err := orch.StartAll(ctx); err != nil {
		return err
	}
	slog.Info("nbrunner ready",
		slog.Int("port", env.Port),
		slog.Bool("execution_available", svc.runner.ExecutionAvailable()),
		slog.Any("token_strategies", svc.tokens.Strategies()))

	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := orch.StopAll(stopCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("Stopped")
	return nil
}

// newScheduler prepares a scheduler for the configured notebook from service.cron
// or service.schedule. It returns nil when neither is set.
func newScheduler(doc config.Document, runner *pipeline.Runner) (*scheduler.Scheduler, error) {
	svc := doc.Service()
	if svc.Cron == "" && svc.Schedule <= 0 {
		return nil, nil
	}
	s, err := scheduler.New()
	if err != nil {
		return nil, err
	}

	task := func(ctx context.Context) {
		res := runner.Run(ctx, pipeline.Request{Trigger: pipeline.TriggerSchedule})
		if !res.OK() {
			slog.Error("Scheduled run failed", logfields.RunID(res.RunID), slog.String("message", res.Message))
			return
		}
		slog.Info("Scheduled run finished", logfields.RunID(res.RunID), slog.String("state", string(res.State)))
	}

	if svc.Cron != "" {
		_, err = s.ScheduleCron("notebook", svc.Cron, task)
	} else {
		_, err = s.ScheduleEvery("notebook", svc.Schedule, task)
	}
	if err != nil {
		_ = s.Stop()
		return nil, err
	}
	return s, nil
}
