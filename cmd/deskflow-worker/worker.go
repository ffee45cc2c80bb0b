package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/deskflow/pkg/delayqueue"
	"github.com/dukex/deskflow/pkg/eventbus"
	"github.com/dukex/deskflow/pkg/events"
	"github.com/dukex/deskflow/pkg/models"
	"golang.org/x/sync/errgroup"
)

const triggeredByEvent = "event"

// Engine is the part of the workflow engine the worker drives.
type Engine interface {
	EvaluateRulesFor(ctx context.Context, entity models.EntityRef, triggeredBy string) ([]string, error)
	Resume(ctx context.Context, continuation *models.Continuation) error
}

type Worker struct {
	id       string
	engine   Engine
	eventBus eventbus.EventSubscriber
	delays   delayqueue.Queue
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewWorker(
	id string,
	engine Engine,
	eventBus eventbus.EventSubscriber,
	delays delayqueue.Queue,
	interval time.Duration,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:       id,
		engine:   engine,
		eventBus: eventBus,
		delays:   delays,
		interval: interval,
		now:      time.Now,
		logger:   logger.With("module", "deskflow_worker", "worker_id", id),
	}
}

// Start subscribes to entity changes and, when a delay queue is configured,
// polls it for due continuations. It returns once ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker subscriptions")

	err := w.eventBus.Handle(events.EntityChangedEvent, w.handleEntityChanged)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if w.delays != nil {
		g.Go(func() error {
			return w.pollDelays(ctx)
		})
	} else {
		w.logger.WarnContext(ctx, "No delay queue configured; delayed executions resume in the process that started them")
	}

	g.Go(func() error {
		<-ctx.Done()

		return nil
	})

	w.logger.InfoContext(ctx, "Worker started successfully")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	w.logger.InfoContext(ctx, "Worker stopped")

	return nil
}

func (w *Worker) handleEntityChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.EntityChanged)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for EntityChanged")

		return nil
	}

	logger := w.logger.With("entity", changed.Entity.String(), "event_id", changed.ID)
	logger.InfoContext(ctx, "Evaluating rules for changed entity", "changed_fields", changed.ChangedFields)

	ids, err := w.engine.EvaluateRulesFor(ctx, changed.Entity, triggeredByEvent)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to evaluate rules", "error", err, "started", len(ids))

		// Redelivering would fire the rules that already started a second time.
		if len(ids) > 0 {
			return nil
		}

		return err
	}

	logger.InfoContext(ctx, "Rules evaluated", "executions", len(ids))

	return nil
}

func (w *Worker) pollDelays(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.resumeDue(ctx)
		}
	}
}

// resumeDue resumes every continuation that is due. A continuation that
// fails to resume is logged and dropped; its execution is failed by Resume
// where possible.
func (w *Worker) resumeDue(ctx context.Context) int {
	due, err := w.delays.PopDue(ctx, w.now())
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to read due continuations", "error", err)

		return 0
	}

	resumed := 0

	for _, continuation := range due {
		err := w.engine.Resume(ctx, continuation)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to resume execution", "execution_id", continuation.ExecutionID, "error", err)

			continue
		}

		resumed++
	}

	if resumed > 0 {
		w.logger.InfoContext(ctx, "Resumed delayed executions", "count", resumed)
	}

	return resumed
}
