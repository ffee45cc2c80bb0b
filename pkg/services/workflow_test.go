package services

import (
	"testing"

	"github.com/dukex/deskflow/pkg/graph"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_Create(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	created, err := service.Create(t.Context(), &models.Workflow{
		Name:       "Escalate on keyword",
		EntityType: models.EntityTypeTicket,
		IsActive:   true,
		Graph:      validGraph(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	stored, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Escalate on keyword", stored.Name)
	assert.Len(t, stored.Graph.Nodes, 3)
}

func TestWorkflow_Create_Invalid(t *testing.T) {
	noEdges := validGraph()
	noEdges.Edges = nil

	tests := []struct {
		name     string
		workflow *models.Workflow
		code     string
	}{
		{
			name:     "nil workflow",
			workflow: nil,
			code:     "INVALID_REQUEST",
		},
		{
			name:     "missing name",
			workflow: &models.Workflow{EntityType: models.EntityTypeTicket, Graph: validGraph()},
			code:     "INVALID_WORKFLOW",
		},
		{
			name:     "unsupported entity type",
			workflow: &models.Workflow{Name: "Spaceships", EntityType: "spaceship", Graph: validGraph()},
			code:     "INVALID_ENTITY_TYPE",
		},
		{
			name:     "graph without edges",
			workflow: &models.Workflow{Name: "Broken", EntityType: models.EntityTypeTicket, Graph: noEdges},
			code:     "INVALID_GRAPH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persistence, runner := setup(t)
			service := NewWorkflow(persistence, runner, newValidator())

			_, err := service.Create(t.Context(), tt.workflow)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			var serviceErr *ServiceError
			require.ErrorAs(t, err, &serviceErr)
			assert.Equal(t, tt.code, serviceErr.Code)

			workflows, err := service.List(t.Context(), "")
			require.NoError(t, err)
			assert.Empty(t, workflows)
		})
	}
}

func TestWorkflow_Create_ReportsGraphReason(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	g := validGraph()
	g.Edges = append(g.Edges, models.Edge{From: "escalate", To: "nowhere"})

	_, err := service.Create(t.Context(), &models.Workflow{Name: "Dangling", EntityType: models.EntityTypeTicket, Graph: g})
	require.Error(t, err)
	assert.Equal(t, graph.ReasonDanglingEdge, graph.ReasonOf(err))
}

func TestWorkflow_FetchByID_NotFound(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	workflow, err := service.FetchByID(t.Context(), "non-existent")
	assert.Nil(t, workflow)
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "workflow not found")
}

func TestWorkflow_List_FiltersByEntityType(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	for _, wf := range []*models.Workflow{
		{Name: "Ticket triage", EntityType: models.EntityTypeTicket, Graph: validGraph()},
		{Name: "User onboarding", EntityType: models.EntityTypeUser, Graph: validGraph()},
	} {
		_, err := service.Create(t.Context(), wf)
		require.NoError(t, err)
	}

	all, err := service.List(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	users, err := service.List(t.Context(), models.EntityTypeUser)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "User onboarding", users[0].Name)
}

func TestWorkflow_Update(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	created, err := service.Create(t.Context(), &models.Workflow{
		Name:       "Original",
		EntityType: models.EntityTypeTicket,
		Graph:      validGraph(),
	})
	require.NoError(t, err)

	updated, err := service.Update(t.Context(), created.ID, &models.Workflow{
		Name:       "Renamed",
		EntityType: models.EntityTypeTicket,
		IsActive:   true,
		Graph:      validGraph(),
	})
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	assert.True(t, updated.IsActive)

	stored, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
}

func TestWorkflow_Update_NotFound(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	_, err := service.Update(t.Context(), "missing", &models.Workflow{
		Name:       "Anything",
		EntityType: models.EntityTypeTicket,
		Graph:      validGraph(),
	})
	assert.True(t, IsNotFoundError(err))
}

func TestWorkflow_Delete(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	created, err := service.Create(t.Context(), &models.Workflow{
		Name:       "Short lived",
		EntityType: models.EntityTypeTicket,
		Graph:      validGraph(),
	})
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.FetchByID(t.Context(), created.ID)
	assert.True(t, IsNotFoundError(err))

	err = service.Delete(t.Context(), created.ID)
	assert.True(t, IsNotFoundError(err))
}

func TestWorkflow_Run(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	runner.On("RunWorkflow", t.Context(), "wf-1", ticket, "manual").Return("exec-1", nil).Once()

	id, err := service.Run(t.Context(), "wf-1", ticket)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	runner.AssertExpectations(t)
}

func TestWorkflow_Run_Rejections(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	_, err := service.Run(t.Context(), "wf-1", models.EntityRef{Type: models.EntityTypeTicket})
	assert.True(t, IsValidationError(err))

	runner.On("RunWorkflow", t.Context(), "wf-inactive", ticket, "manual").
		Return("", workflow.ErrWorkflowInactive).Once()

	_, err = service.Run(t.Context(), "wf-inactive", ticket)
	assert.True(t, IsConflictError(err))

	runner.On("RunWorkflow", t.Context(), "wf-users", ticket, "manual").
		Return("", &workflow.MismatchError{Want: models.EntityTypeUser, Got: models.EntityTypeTicket}).Once()

	_, err = service.Run(t.Context(), "wf-users", ticket)
	assert.True(t, IsValidationError(err))

	runner.AssertExpectations(t)
}

func TestWorkflow_HealthCheck(t *testing.T) {
	persistence, runner := setup(t)
	service := NewWorkflow(persistence, runner, newValidator())

	message, ok := service.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)

	message, ok = NewWorkflow(nil, runner, newValidator()).HealthCheck(t.Context())
	assert.False(t, ok)
	assert.Equal(t, "Persistence layer not initialized", message)
}
