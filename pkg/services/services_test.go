package services

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence/file"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/mock"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunWorkflow(ctx context.Context, workflowID string, entity models.EntityRef, triggeredBy string) (string, error) {
	args := m.Called(ctx, workflowID, entity, triggeredBy)

	return args.String(0), args.Error(1)
}

func (m *mockRunner) RunRule(ctx context.Context, ruleID string, entity models.EntityRef, triggeredBy string) (string, error) {
	args := m.Called(ctx, ruleID, entity, triggeredBy)

	return args.String(0), args.Error(1)
}

func (m *mockRunner) EvaluateRulesFor(ctx context.Context, entity models.EntityRef, triggeredBy string) ([]string, error) {
	args := m.Called(ctx, entity, triggeredBy)

	ids, _ := args.Get(0).([]string)

	return ids, args.Error(1)
}

func (m *mockRunner) Cancel(ctx context.Context, executionID string) error {
	return m.Called(ctx, executionID).Error(0)
}

func (m *mockRunner) CancelRule(ruleID string) int {
	return m.Called(ruleID).Int(0)
}

var ticket = models.EntityRef{Type: models.EntityTypeTicket, ID: "t-1"}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setup(t *testing.T) (*file.Persistence, *mockRunner) {
	t.Helper()

	return file.NewPersistence(t.TempDir()), &mockRunner{}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func validGraph() models.Graph {
	return models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeStart, Data: models.StartData{}},
			{ID: "escalate", Type: models.NodeAction, Data: models.ActionDescriptor{
				Type:   models.ActionUpdateTicket,
				Params: models.UpdateTicketParams{Fields: map[string]any{"priority_id": 4}},
			}},
			{ID: "end", Type: models.NodeEnd, Data: models.EndData{}},
		},
		Edges: []models.Edge{
			{From: "start", To: "escalate"},
			{From: "escalate", To: "end"},
		},
	}
}

func escalationRule() *models.Rule {
	return &models.Rule{
		Name:       "Escalate urgent tickets",
		EntityType: models.EntityTypeTicket,
		IsActive:   true,
		Priority:   10,
		Conditions: models.ConditionGroup{
			Conditions: []models.Condition{{Field: "priority_id", Operator: ">", Value: 3}},
		},
		Actions: []models.ActionDescriptor{
			{Type: models.ActionAssignTicket, Params: models.AssignTicketParams{Department: "Escalations"}},
		},
	}
}
