package kiosk

import (
	"context"
	"fmt"

	"github.com/go-co-op/gocron/v2"

	"github.com/oshokin/exhibit-kiosk/internal/logger"
)

// Schedule opens and closes the exhibit on cron expressions.
type Schedule struct {
	scheduler gocron.Scheduler
}

// NewSchedule registers the open and close jobs; empty expressions are skipped.
func NewSchedule(ctx context.Context, runtime *Runtime, openCron, closeCron string) (*Schedule, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name string
		cron string
		run  func(ctx context.Context) error
	}{
		{
			name: "open",
			cron: openCron,
			run: func(ctx context.Context) error {
				_, err := runtime.Start(ctx)

				return err
			},
		},
		{
			name: "close",
			cron: closeCron,
			run: func(ctx context.Context) error {
				_, err := runtime.Suspend(ctx)

				return err
			},
		},
	}

	for _, job := range jobs {
		if job.cron == "" {
			continue
		}

		_, err = scheduler.NewJob(
			gocron.CronJob(job.cron, false),
			gocron.NewTask(func() {
				logger.InfoKV(ctx, "Operating hours job fired", "job", job.name)

				if jobErr := job.run(ctx); jobErr != nil {
					logger.ErrorKV(ctx, "Operating hours job failed", "job", job.name, "error", jobErr)
				}
			}),
			gocron.WithName(job.name),
		)
		if err != nil {
			_ = scheduler.Shutdown()

			return nil, fmt.Errorf("schedule %s job %q: %w", job.name, job.cron, err)
		}
	}

	return &Schedule{scheduler: scheduler}, nil
}

// Start begins firing jobs.
func (s *Schedule) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down.
func (s *Schedule) Stop() error {
	return s.scheduler.Shutdown()
}
