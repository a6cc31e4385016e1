// Package scheduler triggers notebook runs on a fixed interval or cron expression.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// Task is invoked for every tick. The context is cancelled when the scheduler stops.
type Task func(ctx context.Context)

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a stopped scheduler.
func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.InternalError("failed to create scheduler").WithCause(err).Build()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{scheduler: s, ctx: ctx, cancel: cancel}, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler", slog.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Stop cancels running tasks and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	s.cancel()
	return s.scheduler.Shutdown()
}

// ScheduleEvery runs task every interval. Overlapping ticks are skipped.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, task Task) (string, error) {
	if interval <= 0 {
		return "", ferrors.ValidationError("schedule interval must be positive").
			WithContext("interval", interval.String()).
			Build()
	}
	return s.add(name, gocron.DurationJob(interval), task)
}

// ScheduleCron runs task according to a five-field cron expression.
func (s *Scheduler) ScheduleCron(name, expr string, task Task) (string, error) {
	if strings.TrimSpace(expr) == "" {
		return "", ferrors.ValidationError("cron expression is required").Build()
	}
	return s.add(name, gocron.CronJob(expr, false), task)
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, task Task) (string, error) {
	job, err := s.scheduler.NewJob(
		def,
		gocron.NewTask(s.run, name, task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", ferrors.ValidationError("failed to create scheduled job").
			WithCause(err).
			WithContext("job", name).
			Build()
	}
	return job.ID().String(), nil
}

func (s *Scheduler) run(name string, task Task) {
	start := time.Now()
	slog.Info("Executing scheduled job", slog.String("job", name))
	task(s.ctx)
	slog.Info("Scheduled job finished",
		slog.String("job", name),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
}
