package workflow_test

import (
	"testing"
	"time"

	"github.com/dukex/deskflow/pkg/audit"
	"github.com/dukex/deskflow/pkg/delayqueue"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delayGraph(delay models.DelayData) models.Graph {
	return models.Graph{
		Nodes: []*models.Node{
			node("start", models.NodeStart, models.StartData{}),
			node("wait", models.NodeDelay, delay),
			node("follow_up", models.NodeAction, update(map[string]any{"followed_up": true})),
			node("end", models.NodeEnd, models.EndData{}),
		},
		Edges: []models.Edge{
			{From: "start", To: "wait"},
			{From: "wait", To: "follow_up"},
			{From: "follow_up", To: "end"},
		},
	}
}

func float(v float64) *float64 {
	return &v
}

func TestDelay_WaitsInProcess(t *testing.T) {
	f := newFixture(t, nil)

	started := time.Now()

	executionID, err := f.engine.RunWorkflow(t.Context(), f.saveWorkflow(t, delayGraph(models.DelayData{Seconds: float(0.05)})), ticket, "test")
	require.NoError(t, err)

	execution := f.await(t, executionID)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Nil(t, execution.ResumeAt)
	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
	assert.Equal(t, []string{"follow_up"}, nodeIDs(f.records(t, executionID)))

	trail, err := f.db.AuditRepository().ListByExecution(t.Context(), executionID)
	require.NoError(t, err)

	events := make([]string, 0, len(trail))
	for _, record := range trail {
		events = append(events, record.Event)
	}

	assert.Contains(t, events, audit.ExecutionSuspended)
	assert.Contains(t, events, audit.ExecutionResumed)
}

func TestDelay_UnknownUnitDoesNotWait(t *testing.T) {
	f := newFixture(t, nil)

	executionID, err := f.engine.RunWorkflow(t.Context(), f.saveWorkflow(t, delayGraph(models.DelayData{Duration: float(5), Unit: "fortnights"})), ticket, "test")
	require.NoError(t, err)

	execution := f.await(t, executionID)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Len(t, f.records(t, executionID), 1)
}

func TestDelay_CancelWhileWaiting(t *testing.T) {
	f := newFixture(t, nil)

	executionID, err := f.engine.RunWorkflow(t.Context(), f.saveWorkflow(t, delayGraph(models.DelayData{Duration: float(10), Unit: "minutes"})), ticket, "test")
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(t.Context(), executionID))

	execution := f.await(t, executionID)
	assert.Equal(t, models.ExecutionFailed, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Equal(t, workflow.ErrCancelled.Error(), *execution.Error)
	assert.Empty(t, f.records(t, executionID))
}

func TestDelay_SuspendsToQueueAndResumes(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	queue := delayqueue.NewMemory()

	f := newFixture(t, func(deps *workflow.Dependencies) {
		deps.Delays = queue
	}, workflow.WithClock(func() time.Time { return now }))

	executionID, err := f.engine.RunWorkflow(t.Context(), f.saveWorkflow(t, delayGraph(models.DelayData{Duration: float(2), Unit: "minutes"})), ticket, "test")
	require.NoError(t, err)

	suspended := f.await(t, executionID)
	assert.Equal(t, models.ExecutionRunning, suspended.Status)
	require.NotNil(t, suspended.ResumeAt)
	assert.True(t, now.Add(2*time.Minute).Equal(*suspended.ResumeAt))
	assert.Empty(t, f.records(t, executionID))
	assert.Equal(t, 1, queue.Len())

	due, err := queue.PopDue(t.Context(), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due, "not due before the delay elapses")

	due, err = queue.PopDue(t.Context(), now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, executionID, due[0].ExecutionID)
	assert.Equal(t, []string{"follow_up"}, due[0].Stack)
	assert.Equal(t, []string{"start", "wait"}, due[0].Visited)

	require.NoError(t, f.engine.Resume(t.Context(), due[0]))

	resumed := f.await(t, executionID)
	assert.Equal(t, models.ExecutionCompleted, resumed.Status)
	assert.Nil(t, resumed.ResumeAt)
	assert.Equal(t, []string{"follow_up"}, nodeIDs(f.records(t, executionID)))
}

func TestDelay_CancelSuspendedExecution(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	queue := delayqueue.NewMemory()

	f := newFixture(t, func(deps *workflow.Dependencies) {
		deps.Delays = queue
	}, workflow.WithClock(func() time.Time { return now }))

	executionID, err := f.engine.RunWorkflow(t.Context(), f.saveWorkflow(t, delayGraph(models.DelayData{Seconds: float(30)})), ticket, "test")
	require.NoError(t, err)
	f.await(t, executionID)

	require.NoError(t, f.engine.Cancel(t.Context(), executionID))

	cancelled := f.await(t, executionID)
	assert.Equal(t, models.ExecutionFailed, cancelled.Status)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, workflow.ErrCancelled.Error(), *cancelled.Error)

	due, err := queue.PopDue(t.Context(), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, f.engine.Resume(t.Context(), due[0]))
	assert.Empty(t, f.records(t, executionID))

	err = f.engine.Cancel(t.Context(), executionID)
	require.ErrorIs(t, err, workflow.ErrNotCancellable)
}
