package services

import (
	"testing"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence/file"
	"github.com/dukex/deskflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedExecution(t *testing.T, db *file.Persistence, id string, startedAt time.Time) *models.Execution {
	t.Helper()

	execution := &models.Execution{
		ID:         id,
		WorkflowID: "wf-1",
		Entity:     ticket,
		Mode:       models.ModeAbortOnFailure,
		Status:     models.ExecutionRunning,
		StartedAt:  startedAt,
	}
	require.NoError(t, db.ExecutionRepository().Save(t.Context(), execution))

	return execution
}

func TestExecution_FetchAndList(t *testing.T) {
	db, runner := setup(t)
	service := NewExecution(db, runner)

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	seedExecution(t, db, "exec-old", base)
	seedExecution(t, db, "exec-new", base.Add(time.Hour))

	execution, err := service.FetchByID(t.Context(), "exec-old")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", execution.WorkflowID)

	executions, err := service.ListByEntity(t.Context(), ticket)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, "exec-new", executions[0].ID)
	assert.Equal(t, "exec-old", executions[1].ID)

	executions, err = service.ListByEntity(t.Context(), models.EntityRef{Type: models.EntityTypeTicket, ID: "t-2"})
	require.NoError(t, err)
	assert.Empty(t, executions)

	_, err = service.FetchByID(t.Context(), "missing")
	assert.True(t, IsNotFoundError(err))
}

func TestExecution_ActionRecordsAndAudit(t *testing.T) {
	db, runner := setup(t)
	service := NewExecution(db, runner)

	seedExecution(t, db, "exec-1", time.Now().UTC())

	for i, status := range []models.ActionStatus{models.ActionCompleted, models.ActionFailed} {
		require.NoError(t, db.ActionRecordRepository().Save(t.Context(), &models.ActionRecord{
			ID:          "rec-" + string(status),
			ExecutionID: "exec-1",
			Sequence:    i + 1,
			ActionType:  models.ActionUpdateTicket,
			Status:      status,
		}))
	}

	require.NoError(t, db.AuditRepository().Append(t.Context(), &models.AuditRecord{
		ID:          "audit-1",
		ExecutionID: "exec-1",
		Event:       "execution.started",
		RecordedAt:  time.Now().UTC(),
	}))

	records, err := service.ActionRecords(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.ActionCompleted, records[0].Status)
	assert.Equal(t, models.ActionFailed, records[1].Status)

	trail, err := service.AuditTrail(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "execution.started", trail[0].Event)

	_, err = service.ActionRecords(t.Context(), "missing")
	assert.True(t, IsNotFoundError(err))
}

func TestExecution_Cancel(t *testing.T) {
	db, runner := setup(t)
	service := NewExecution(db, runner)

	seedExecution(t, db, "exec-1", time.Now().UTC())

	runner.On("Cancel", t.Context(), "exec-1").Return(nil).Once()

	execution, err := service.Cancel(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", execution.ID)

	runner.On("Cancel", t.Context(), "exec-1").Return(workflow.ErrNotCancellable).Once()

	_, err = service.Cancel(t.Context(), "exec-1")
	assert.True(t, IsConflictError(err))

	_, err = service.Cancel(t.Context(), "missing")
	assert.True(t, IsNotFoundError(err))

	runner.AssertExpectations(t)
}
