package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/deskflow/pkg/actions"
	"github.com/dukex/deskflow/pkg/entitystore"
	"github.com/dukex/deskflow/pkg/mocks"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (f *fixture) saveRule(t *testing.T, rule *models.Rule) *models.Rule {
	t.Helper()

	if rule.EntityType == "" {
		rule.EntityType = models.EntityTypeTicket
	}

	rule.IsActive = true
	require.NoError(t, f.db.RuleRepository().Save(t.Context(), rule))

	return rule
}

func (f *fixture) rule(t *testing.T, id string) *models.Rule {
	t.Helper()

	rule, err := f.db.RuleRepository().GetByID(t.Context(), id)
	require.NoError(t, err)

	return rule
}

func limit(n int) *int {
	return &n
}

func TestRunRule_IsolatesFailedActions(t *testing.T) {
	f := newFixture(t, nil)

	rule := f.saveRule(t, &models.Rule{
		Name: "Tag and close",
		Actions: []models.ActionDescriptor{
			update(map[string]any{"tag": "vip"}),
			assignGhost(),
			update(map[string]any{"status": "closed"}),
		},
	})

	executionID, err := f.engine.RunRule(t.Context(), rule.ID, ticket, "manual")
	require.NoError(t, err)

	execution := f.await(t, executionID)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Equal(t, models.ModeIsolatedActions, execution.Mode)
	assert.Equal(t, rule.ID, execution.RuleID)
	assert.Empty(t, execution.WorkflowID)

	records := f.records(t, executionID)
	assert.Equal(t, []models.ActionStatus{models.ActionCompleted, models.ActionFailed, models.ActionCompleted}, statuses(records))
	assert.Equal(t, []string{"action-0", "action-1", "action-2"}, nodeIDs(records))
	require.NotNil(t, records[1].Error)
	assert.Equal(t, "closed", f.field(t, "status"))

	stored := f.rule(t, rule.ID)
	assert.Equal(t, 1, stored.ExecutionCount)
	assert.NotNil(t, stored.LastExecutedAt)
}

func TestRunRule_Rejections(t *testing.T) {
	f := newFixture(t, nil)

	exhausted := f.saveRule(t, &models.Rule{
		Name:           "Exhausted",
		Actions:        []models.ActionDescriptor{update(map[string]any{"x": 1})},
		ExecutionLimit: limit(2),
		ExecutionCount: 2,
	})

	_, err := f.engine.RunRule(t.Context(), exhausted.ID, ticket, "manual")
	require.ErrorIs(t, err, workflow.ErrExecutionLimitReached)

	userRule := f.saveRule(t, &models.Rule{
		Name:       "Users only",
		EntityType: models.EntityTypeUser,
		Actions:    []models.ActionDescriptor{update(map[string]any{"x": 1})},
	})

	_, err = f.engine.RunRule(t.Context(), userRule.ID, ticket, "manual")
	require.ErrorIs(t, err, workflow.ErrEntityTypeMismatch)

	inactive := &models.Rule{
		Name:       "Off",
		EntityType: models.EntityTypeTicket,
		Actions:    []models.ActionDescriptor{update(map[string]any{"x": 1})},
	}
	require.NoError(t, f.db.RuleRepository().Save(t.Context(), inactive))

	_, err = f.engine.RunRule(t.Context(), inactive.ID, ticket, "manual")
	require.ErrorIs(t, err, workflow.ErrRuleInactive)
}

func TestEvaluateRulesFor_RunsMatchingRulesByPriority(t *testing.T) {
	f := newFixture(t, nil)

	low := f.saveRule(t, &models.Rule{
		Name:     "Low priority",
		Priority: 1,
		Actions:  []models.ActionDescriptor{update(map[string]any{"tag": "low"})},
	})
	high := f.saveRule(t, &models.Rule{
		Name:     "High priority",
		Priority: 10,
		Conditions: models.ConditionGroup{
			Match:      models.MatchAll,
			Conditions: []models.Condition{{Field: "status", Operator: "=", Value: "open"}},
		},
		Actions: []models.ActionDescriptor{update(map[string]any{"tag": "high"})},
	})
	skipped := f.saveRule(t, &models.Rule{
		Name:     "Urgent only",
		Priority: 50,
		Conditions: models.ConditionGroup{
			Conditions: []models.Condition{{Field: "priority_id", Operator: ">", Value: 3}},
		},
		Actions: []models.ActionDescriptor{update(map[string]any{"tag": "urgent"})},
	})

	ids, err := f.engine.EvaluateRulesFor(t.Context(), ticket, "entity.changed")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	first := f.await(t, ids[0])
	second := f.await(t, ids[1])

	assert.Equal(t, high.ID, first.RuleID)
	assert.Equal(t, low.ID, second.RuleID)
	assert.Equal(t, "low", f.field(t, "tag"), "lower priority rule runs last")

	assert.Equal(t, 1, f.rule(t, high.ID).ExecutionCount)
	assert.Equal(t, 1, f.rule(t, low.ID).ExecutionCount)
	assert.Equal(t, 0, f.rule(t, skipped.ID).ExecutionCount)
}

func TestEvaluateRulesFor_ExpressionConditions(t *testing.T) {
	f := newFixture(t, nil)

	rule := f.saveRule(t, &models.Rule{
		Name: "Refund keyword",
		Conditions: models.ConditionGroup{
			Expression: `subject contains "Refund" && priority_id < 3`,
		},
		Actions: []models.ActionDescriptor{update(map[string]any{"queue": "refunds"})},
	})

	ids, err := f.engine.EvaluateRulesFor(t.Context(), ticket, "entity.changed")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	assert.Equal(t, rule.ID, f.await(t, ids[0]).RuleID)
	assert.Equal(t, "refunds", f.field(t, "queue"))
}

func TestEvaluateRulesFor_SkipsExhaustedAndUndueRules(t *testing.T) {
	gate := &mocks.MockScheduleGate{}
	f := newFixture(t, func(deps *workflow.Dependencies) {
		deps.Gate = gate
	})

	schedule := "0 9 * * *"

	f.saveRule(t, &models.Rule{
		Name:           "Exhausted",
		Actions:        []models.ActionDescriptor{update(map[string]any{"x": 1})},
		ExecutionLimit: limit(1),
		ExecutionCount: 1,
	})
	scheduled := f.saveRule(t, &models.Rule{
		Name:     "Morning sweep",
		Schedule: &schedule,
		Actions:  []models.ActionDescriptor{update(map[string]any{"x": 2})},
	})

	gate.On("ShouldRunNow", mock.MatchedBy(func(r *models.Rule) bool { return r.ID == scheduled.ID }), mock.Anything).Return(false)

	ids, err := f.engine.EvaluateRulesFor(t.Context(), ticket, "entity.changed")
	require.NoError(t, err)
	assert.Empty(t, ids)
	gate.AssertExpectations(t)
}

// slowStore widens the window between reading a rule and firing it.
type slowStore struct {
	*entitystore.Memory
	delay time.Duration
}

func (s *slowStore) Load(ctx context.Context, ref models.EntityRef) (*models.Entity, error) {
	time.Sleep(s.delay)

	return s.Memory.Load(ctx, ref)
}

func TestEvaluateRulesFor_ConcurrentTriggersHonourExecutionLimit(t *testing.T) {
	f := newFixture(t, func(deps *workflow.Dependencies) {
		deps.Store = &slowStore{Memory: deps.Store.(*entitystore.Memory), delay: 20 * time.Millisecond}
	})

	rule := f.saveRule(t, &models.Rule{
		Name:           "Once per ticket",
		Actions:        []models.ActionDescriptor{update(map[string]any{"seen": true})},
		ExecutionLimit: limit(1),
	})

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []string
	)

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			started, err := f.engine.EvaluateRulesFor(t.Context(), ticket, "entity.changed")
			assert.NoError(t, err)

			mu.Lock()
			ids = append(ids, started...)
			mu.Unlock()
		}()
	}

	wg.Wait()

	require.Len(t, ids, 1)
	assert.Equal(t, models.ExecutionCompleted, f.await(t, ids[0]).Status)
	assert.Equal(t, 1, f.rule(t, rule.ID).ExecutionCount)
}

func TestEvaluateRulesFor_NoRules(t *testing.T) {
	f := newFixture(t, nil)

	ids, err := f.engine.EvaluateRulesFor(t.Context(), models.EntityRef{Type: models.EntityTypeTicket, ID: "missing"}, "test")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRunSchedulingPass_HonoursExecutionLimit(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	f := newFixture(t, nil, workflow.WithClock(func() time.Time { return now }))

	for _, id := range []string{"t-a", "t-b", "t-c"} {
		f.store.Put(models.EntityRef{Type: models.EntityTypeTicket, ID: id}, map[string]any{"status": "stale"})
	}

	every := "* * * * *"
	rule := f.saveRule(t, &models.Rule{
		Name:     "Close stale tickets",
		Schedule: &every,
		Conditions: models.ConditionGroup{
			Conditions: []models.Condition{{Field: "status", Operator: "=", Value: "stale"}},
		},
		Actions:        []models.ActionDescriptor{update(map[string]any{"status": "closed"})},
		ExecutionLimit: limit(3),
		ExecutionCount: 2,
		CreatedAt:      now.Add(-time.Hour),
	})

	fired, err := f.engine.RunSchedulingPass(t.Context(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	stored := f.rule(t, rule.ID)
	assert.Equal(t, 3, stored.ExecutionCount)
	require.NotNil(t, stored.LastExecutedAt)
	assert.WithinDuration(t, now, *stored.LastExecutedAt, time.Second)

	fired, err = f.engine.RunSchedulingPass(t.Context(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, fired)

	require.NoError(t, f.engine.Shutdown(t.Context()))

	executions, err := f.db.ExecutionRepository().ListByEntity(t.Context(), models.EntityRef{Type: models.EntityTypeTicket, ID: "t-a"})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionCompleted, executions[0].Status)
	assert.Equal(t, "schedule", executions[0].TriggeredBy)

	executions, err = f.db.ExecutionRepository().ListByEntity(t.Context(), models.EntityRef{Type: models.EntityTypeTicket, ID: "t-b"})
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestRunSchedulingPass_NoMatchLeavesRuleUntouched(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, nil)

	every := "* * * * *"
	rule := f.saveRule(t, &models.Rule{
		Name:     "Nothing matches",
		Schedule: &every,
		Conditions: models.ConditionGroup{
			Conditions: []models.Condition{{Field: "status", Operator: "=", Value: "archived"}},
		},
		Actions:   []models.ActionDescriptor{update(map[string]any{"status": "closed"})},
		CreatedAt: now.Add(-time.Hour),
	})

	fired, err := f.engine.RunSchedulingPass(t.Context(), now)
	require.NoError(t, err)
	assert.Zero(t, fired)

	stored := f.rule(t, rule.ID)
	assert.Zero(t, stored.ExecutionCount)
	assert.Nil(t, stored.LastExecutedAt)
}

// gatedDispatcher blocks each dispatch until released.
type gatedDispatcher struct {
	next    workflow.Dispatcher
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDispatcher) Dispatch(ctx context.Context, action models.ActionDescriptor, target models.EntityRef) actions.Result {
	g.entered <- struct{}{}
	<-g.release

	return g.next.Dispatch(ctx, action, target)
}

func TestCancelRule_StopsBeforeNextAction(t *testing.T) {
	gated := &gatedDispatcher{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}

	f := newFixture(t, func(deps *workflow.Dependencies) {
		gated.next = deps.Dispatcher
		deps.Dispatcher = gated
	})

	rule := f.saveRule(t, &models.Rule{
		Name: "Two steps",
		Actions: []models.ActionDescriptor{
			update(map[string]any{"step": 1}),
			update(map[string]any{"step": 2}),
		},
	})

	executionID, err := f.engine.RunRule(t.Context(), rule.ID, ticket, "manual")
	require.NoError(t, err)

	select {
	case <-gated.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first action was not dispatched")
	}

	assert.Equal(t, 1, f.engine.CancelRule(rule.ID))
	close(gated.release)

	execution := f.await(t, executionID)
	assert.Equal(t, models.ExecutionFailed, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Equal(t, workflow.ErrCancelled.Error(), *execution.Error)

	records := f.records(t, executionID)
	assert.Equal(t, []models.ActionStatus{models.ActionCompleted}, statuses(records), "in-flight action completes")
	assert.Equal(t, 1, f.field(t, "step"))
}
