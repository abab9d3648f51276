package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/italolelis/apphub_installer/internal/telemetry"
)

// Task is a periodic unit of work. Errors are logged, the job keeps running.
type Task func(ctx context.Context) error

// Scheduler wraps gocron for the daemon's periodic jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	telemetry *telemetry.Telemetry
}

func New(tel *telemetry.Telemetry, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{scheduler: s, telemetry: tel}, nil
}

// Every runs task every interval. The task's context is derived from ctx and
// is cancelled when the scheduler stops. Runs never overlap; a run still going when
// the next is due pushes that one back. With immediately set the first run
// starts right away.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, immediately bool, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}

	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithContext(ctx),
	}

	if immediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.execute, name, task),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to create %s job: %w", name, err)
	}

	return nil
}

// Start begins running the scheduled jobs.
func (s *Scheduler) Start(ctx context.Context) {
	logctx.LoggerFromContext(ctx).InfoContext(ctx, "starting scheduler", "jobs", len(s.scheduler.Jobs()))
	s.scheduler.Start()
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop(ctx context.Context) error {
	logctx.LoggerFromContext(ctx).InfoContext(ctx, "stopping scheduler")

	return s.scheduler.Shutdown()
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))

	for _, j := range jobs {
		names = append(names, j.Name())
	}

	return names
}

func (s *Scheduler) execute(ctx context.Context, name string, task Task) {
	if ctx.Err() != nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	err := s.telemetry.InstrumentOperation(ctx, "job_"+name, "scheduler", telemetry.InstrumentedFunc(task))
	if err != nil {
		logger.ErrorContext(ctx, "scheduled job failed", "job", name, "err", err)
		s.telemetry.RecordSystemError("scheduler", name)

		return
	}

	logger.DebugContext(ctx, "scheduled job completed", "job", name)
}
