package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/deskflow/pkg/channels/gochannel"
	"github.com/dukex/deskflow/pkg/delayqueue"
	"github.com/dukex/deskflow/pkg/eventbus"
	"github.com/dukex/deskflow/pkg/events"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) EvaluateRulesFor(ctx context.Context, entity models.EntityRef, triggeredBy string) ([]string, error) {
	args := m.Called(ctx, entity, triggeredBy)

	ids, _ := args.Get(0).([]string)

	return ids, args.Error(1)
}

func (m *mockEngine) Resume(ctx context.Context, continuation *models.Continuation) error {
	return m.Called(ctx, continuation).Error(0)
}

var ticket = models.EntityRef{Type: models.EntityTypeTicket, ID: "t-1"}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, quietLogger())

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWorker_HandleEntityChanged(t *testing.T) {
	engine := &mockEngine{}
	engine.On("EvaluateRulesFor", mock.Anything, ticket, triggeredByEvent).Return([]string{"exec-1"}, nil).Once()

	w := NewWorker("test-worker", engine, newTestBus(t), nil, time.Second, quietLogger())

	err := w.handleEntityChanged(t.Context(), &events.EntityChanged{Entity: ticket})
	require.NoError(t, err)

	engine.AssertExpectations(t)
}

func TestWorker_HandleEntityChanged_InvalidEvent(t *testing.T) {
	engine := &mockEngine{}
	w := NewWorker("test-worker", engine, newTestBus(t), nil, time.Second, quietLogger())

	err := w.handleEntityChanged(t.Context(), "invalid-event")
	require.NoError(t, err)

	engine.AssertNotCalled(t, "EvaluateRulesFor", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_HandleEntityChanged_Errors(t *testing.T) {
	failure := errors.New("store offline")

	t.Run("nothing started is redelivered", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("EvaluateRulesFor", mock.Anything, ticket, triggeredByEvent).Return(nil, failure)

		w := NewWorker("test-worker", engine, newTestBus(t), nil, time.Second, quietLogger())

		err := w.handleEntityChanged(t.Context(), &events.EntityChanged{Entity: ticket})
		assert.ErrorIs(t, err, failure)
	})

	t.Run("partial start is acknowledged", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("EvaluateRulesFor", mock.Anything, ticket, triggeredByEvent).Return([]string{"exec-1"}, failure)

		w := NewWorker("test-worker", engine, newTestBus(t), nil, time.Second, quietLogger())

		err := w.handleEntityChanged(t.Context(), &events.EntityChanged{Entity: ticket})
		assert.NoError(t, err)
	})
}

func TestWorker_ResumeDue(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	queue := delayqueue.NewMemory()

	for _, c := range []*models.Continuation{
		{ExecutionID: "due-1", ResumeAt: now.Add(-time.Minute)},
		{ExecutionID: "due-2", ResumeAt: now},
		{ExecutionID: "later", ResumeAt: now.Add(time.Hour)},
	} {
		require.NoError(t, queue.Push(t.Context(), c))
	}

	engine := &mockEngine{}
	engine.On("Resume", mock.Anything, mock.MatchedBy(func(c *models.Continuation) bool {
		return c.ExecutionID == "due-1"
	})).Return(nil).Once()
	engine.On("Resume", mock.Anything, mock.MatchedBy(func(c *models.Continuation) bool {
		return c.ExecutionID == "due-2"
	})).Return(errors.New("execution vanished")).Once()

	w := NewWorker("test-worker", engine, newTestBus(t), queue, time.Second, quietLogger())
	w.now = func() time.Time { return now }

	assert.Equal(t, 1, w.resumeDue(t.Context()))
	assert.Equal(t, 1, queue.Len())
	engine.AssertExpectations(t)
}

func TestWorker_Start(t *testing.T) {
	bus := newTestBus(t)
	queue := delayqueue.NewMemory()
	require.NoError(t, queue.Push(t.Context(), &models.Continuation{ExecutionID: "exec-delayed", ResumeAt: time.Now().Add(-time.Second)}))

	var evaluated, resumed atomic.Int32

	engine := &mockEngine{}
	engine.On("EvaluateRulesFor", mock.Anything, ticket, triggeredByEvent).
		Run(func(mock.Arguments) { evaluated.Add(1) }).
		Return([]string{"exec-1"}, nil)
	engine.On("Resume", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { resumed.Add(1) }).
		Return(nil)

	w := NewWorker("test-worker", engine, bus, queue, 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() {
		done <- w.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return resumed.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	changed := events.EntityChanged{
		BaseEvent: events.NewBaseEvent(events.EntityChangedEvent),
		Entity:    ticket,
	}
	require.NoError(t, bus.Publish(t.Context(), ticket.Key(), changed))

	require.Eventually(t, func() bool {
		return evaluated.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
