// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "deskflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// EntityChangedEvent is consumed by the worker to evaluate rules.
	EntityChangedEvent EventType = "entity.changed"
	// NotificationRequestedEvent carries a delivery request from a notification action.
	NotificationRequestedEvent EventType = "notification.requested"
	// AuditRecordedEvent mirrors every audit record written by the engine.
	AuditRecordedEvent EventType = "audit.recorded"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// EntityChanged announces that an entity was created or modified.
type EntityChanged struct {
	BaseEvent

	Entity        models.EntityRef `json:"entity"`
	ChangedFields []string         `json:"changed_fields,omitempty"`
	Source        string           `json:"source,omitempty"`
}

func (e EntityChanged) GetType() EventType {
	return EntityChangedEvent
}

type NotificationRequested struct {
	BaseEvent

	Notification models.Notification `json:"notification"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}

type AuditRecorded struct {
	BaseEvent

	Record models.AuditRecord `json:"record"`
}

func (e AuditRecorded) GetType() EventType {
	return AuditRecordedEvent
}
