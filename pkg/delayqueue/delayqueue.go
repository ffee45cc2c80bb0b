// Package delayqueue stores continuations of executions suspended on a
// delay node until they are due.
package delayqueue

import (
	"context"
	"time"

	"github.com/dukex/deskflow/pkg/models"
)

type Queue interface {
	// Push schedules cont for its ResumeAt time.
	Push(ctx context.Context, cont *models.Continuation) error
	// PopDue removes and returns every continuation due at or before now,
	// earliest first.
	PopDue(ctx context.Context, now time.Time) ([]*models.Continuation, error)
}
