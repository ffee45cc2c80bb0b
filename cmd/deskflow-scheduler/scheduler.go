package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Engine runs one scheduling pass over the active scheduled rules.
type Engine interface {
	RunSchedulingPass(ctx context.Context, now time.Time) (int, error)
}

type Scheduler struct {
	engine   Engine
	schedule string
	now      func() time.Time
	logger   *slog.Logger
}

func NewScheduler(engine Engine, schedule string, logger *slog.Logger) (*Scheduler, error) {
	_, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule '%s': %w", schedule, err)
	}

	return &Scheduler{
		engine:   engine,
		schedule: schedule,
		now:      time.Now,
		logger:   logger.With("module", "deskflow_scheduler"),
	}, nil
}

// Start runs a pass on every tick of the schedule until ctx is cancelled.
// A tick that arrives while the previous pass is still running is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cl),
		cron.Recover(cl),
	))

	_, err := c.AddFunc(s.schedule, func() {
		s.pass(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to add scheduling job: %w", err)
	}

	c.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "schedule", s.schedule)

	<-ctx.Done()

	s.logger.InfoContext(ctx, "Shutting down scheduler")
	<-c.Stop().Done()

	return nil
}

func (s *Scheduler) pass(ctx context.Context) int {
	started := s.now()

	fired, err := s.engine.RunSchedulingPass(ctx, started)
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduling pass finished with errors", "fired", fired, "error", err)

		return fired
	}

	s.logger.InfoContext(ctx, "Scheduling pass finished", "fired", fired, "duration", time.Since(started))

	return fired
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
