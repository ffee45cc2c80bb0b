// Package notifier hands notification requests to the delivery side.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/deskflow/pkg/eventbus"
	"github.com/dukex/deskflow/pkg/events"
	"github.com/dukex/deskflow/pkg/models"
)

// EventNotifier publishes notification.requested events. Delivery itself
// happens outside this process.
type EventNotifier struct {
	publisher eventbus.EventPublisher
}

func NewEventNotifier(publisher eventbus.EventPublisher) *EventNotifier {
	return &EventNotifier{publisher: publisher}
}

func (n *EventNotifier) Notify(ctx context.Context, notification models.Notification) error {
	event := events.NotificationRequested{
		BaseEvent:    events.NewBaseEvent(events.NotificationRequestedEvent),
		Notification: notification,
	}

	err := n.publisher.Publish(ctx, notification.Entity.Key(), event)
	if err != nil {
		return fmt.Errorf("failed to publish notification %s: %w", notification.ID, err)
	}

	return nil
}

// LogNotifier only logs requests; used when no event bus is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, notification models.Notification) error {
	n.logger.InfoContext(ctx, "Notification requested",
		"notification_id", notification.ID,
		"channel", notification.Channel,
		"recipients", notification.Recipients,
		"entity", notification.Entity.Key(),
	)

	return nil
}
