// Package audit provides the sinks that receive execution audit events.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/deskflow/pkg/eventbus"
	"github.com/dukex/deskflow/pkg/events"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/google/uuid"
)

// Audit event names emitted by the engine.
const (
	ExecutionStarted   = "execution.started"
	ExecutionSuspended = "execution.suspended"
	ExecutionResumed   = "execution.resumed"
	ExecutionCompleted = "execution.completed"
	ExecutionFailed    = "execution.failed"
	ActionStarted      = "action.started"
	ActionCompleted    = "action.completed"
	ActionFailed       = "action.failed"
)

func newRecord(executionID, actionID, event string, payload map[string]any) *models.AuditRecord {
	return &models.AuditRecord{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		ActionID:    actionID,
		Event:       event,
		Payload:     payload,
		RecordedAt:  time.Now().UTC(),
	}
}

// PersistenceSink appends records to the audit repository.
type PersistenceSink struct {
	repo persistence.AuditRepository
}

func NewPersistenceSink(repo persistence.AuditRepository) *PersistenceSink {
	return &PersistenceSink{repo: repo}
}

func (s *PersistenceSink) Record(ctx context.Context, executionID, actionID, event string, payload map[string]any) error {
	err := s.repo.Append(ctx, newRecord(executionID, actionID, event, payload))
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

// EventSink publishes each record as an audit.recorded event keyed by execution.
type EventSink struct {
	publisher eventbus.EventPublisher
}

func NewEventSink(publisher eventbus.EventPublisher) *EventSink {
	return &EventSink{publisher: publisher}
}

func (s *EventSink) Record(ctx context.Context, executionID, actionID, event string, payload map[string]any) error {
	err := s.publisher.Publish(ctx, executionID, events.AuditRecorded{
		BaseEvent: events.NewBaseEvent(events.AuditRecordedEvent),
		Record:    *newRecord(executionID, actionID, event, payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}

	return nil
}

// Multi fans a record out to every sink and joins their errors.
type Multi []protocol.AuditSink

func (m Multi) Record(ctx context.Context, executionID, actionID, event string, payload map[string]any) error {
	var errs []error

	for _, sink := range m {
		err := sink.Record(ctx, executionID, actionID, event, payload)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Record(context.Context, string, string, string, map[string]any) error {
	return nil
}
