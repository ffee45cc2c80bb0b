// Package mocks provides testify mocks of the engine's collaborators.
package mocks

import (
	"context"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockClassifier is a mock implementation of protocol.Classifier.
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Categorize(ctx context.Context, subject, body string) (*protocol.Categorization, error) {
	args := m.Called(ctx, subject, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.Categorization), args.Error(1)
}

func (m *MockClassifier) SuggestResponses(ctx context.Context, entity *models.Entity) ([]string, error) {
	args := m.Called(ctx, entity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockClassifier) PredictEscalation(ctx context.Context, entity *models.Entity) (float64, error) {
	args := m.Called(ctx, entity)

	return args.Get(0).(float64), args.Error(1)
}

// MockNotifier is a mock implementation of protocol.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, notification models.Notification) error {
	args := m.Called(ctx, notification)

	return args.Error(0)
}

// MockAuditSink is a mock implementation of protocol.AuditSink.
type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) Record(ctx context.Context, executionID, actionID, event string, payload map[string]any) error {
	args := m.Called(ctx, executionID, actionID, event, payload)

	return args.Error(0)
}

// MockScheduleGate is a mock implementation of protocol.ScheduleGate.
type MockScheduleGate struct {
	mock.Mock
}

func (m *MockScheduleGate) ShouldRunNow(rule *models.Rule, now time.Time) bool {
	args := m.Called(rule, now)

	return args.Bool(0)
}
