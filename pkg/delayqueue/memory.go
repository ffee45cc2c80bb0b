package delayqueue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dukex/deskflow/pkg/models"
)

// Memory is an in-process Queue. Pending continuations are lost on exit.
type Memory struct {
	mu      sync.Mutex
	pending []*models.Continuation
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Push(_ context.Context, cont *models.Continuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cont

	index := slices.IndexFunc(m.pending, func(e *models.Continuation) bool {
		return e.ResumeAt.After(c.ResumeAt)
	})
	if index < 0 {
		index = len(m.pending)
	}

	m.pending = slices.Insert(m.pending, index, &c)

	return nil
}

func (m *Memory) PopDue(_ context.Context, now time.Time) ([]*models.Continuation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for n < len(m.pending) && !m.pending[n].ResumeAt.After(now) {
		n++
	}

	due := slices.Clone(m.pending[:n])
	m.pending = slices.Delete(m.pending, 0, n)

	return due, nil
}

// Len reports the number of pending continuations.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}
