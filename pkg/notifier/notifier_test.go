package notifier

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/deskflow/pkg/events"
	"github.com/dukex/deskflow/pkg/mocks"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEventNotifier_PublishesKeyedByEntity(t *testing.T) {
	bus := &mocks.MockEventBus{}
	notification := models.Notification{
		ID:         "n-1",
		Channel:    "email",
		Recipients: []string{"ana@example.com"},
		Message:    "hello",
		Entity:     models.EntityRef{Type: models.EntityTypeTicket, ID: "t-1"},
	}

	bus.On("Publish", mock.Anything, "ticket:t-1", mock.MatchedBy(func(e events.NotificationRequested) bool {
		return e.Notification.ID == "n-1" && e.Type == events.NotificationRequestedEvent
	})).Return(nil).Once()

	require.NoError(t, NewEventNotifier(bus).Notify(t.Context(), notification))
	bus.AssertExpectations(t)
}

func TestEventNotifier_WrapsPublishError(t *testing.T) {
	bus := &mocks.MockEventBus{}
	boom := errors.New("broker down")
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(boom)

	err := NewEventNotifier(bus).Notify(t.Context(), models.Notification{ID: "n-2"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "n-2")
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(slog.Default()).Notify(t.Context(), models.Notification{ID: "n-3"}))
}
