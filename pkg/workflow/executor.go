package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/deskflow/pkg/condition"
	"github.com/dukex/deskflow/pkg/graph"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
)

// traversal is the work list of a depth-first walk over a workflow graph.
type traversal struct {
	index   *graph.Index
	stack   []string
	visited map[string]bool
}

// push schedules ids so that ids[0] is visited first.
func (t *traversal) push(ids []string) {
	for i := len(ids) - 1; i >= 0; i-- {
		t.stack = append(t.stack, ids[i])
	}
}

func (t *traversal) pop() string {
	id := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]

	return id
}

func (t *traversal) continuation(executionID string, resumeAt time.Time) *models.Continuation {
	visited := make([]string, 0, len(t.visited))
	for id := range t.visited {
		visited = append(visited, id)
	}

	slices.Sort(visited)

	return &models.Continuation{
		ExecutionID: executionID,
		Stack:       slices.Clone(t.stack),
		Visited:     visited,
		ResumeAt:    resumeAt,
	}
}

// traverse walks the graph until the work list is empty, a step fails or
// the execution suspends. Each node runs at most once.
func (e *Engine) traverse(ctx context.Context, r *run, t *traversal) error {
	logger := e.logger.With("execution_id", r.execution.ID, "workflow_id", r.execution.WorkflowID)

	for len(t.stack) > 0 {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		id := t.pop()
		if t.visited[id] {
			logger.DebugContext(ctx, "Skipping revisited node", "node_id", id)

			continue
		}

		t.visited[id] = true

		node, ok := t.index.Node(id)
		if !ok {
			logger.WarnContext(ctx, "Skipping missing node", "node_id", id)

			continue
		}

		err := e.step(ctx, r, t, node)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) step(ctx context.Context, r *run, t *traversal, node *models.Node) error {
	switch data := node.Data.(type) {
	case models.StartData:
		t.push(t.index.Successors(node.ID))
	case models.EndData:
	case models.ActionDescriptor:
		return e.runNodeAction(ctx, r, t, node, data)
	case models.AIData:
		return e.runNodeAction(ctx, r, t, node, data.Action())
	case models.ConditionData:
		return e.branch(ctx, r, t, node, data)
	case models.DelayData:
		t.push(t.index.Successors(node.ID))

		return e.delay(ctx, r, t, data.Length())
	default:
		e.logger.WarnContext(ctx, "Unknown node type, ending branch",
			"execution_id", r.execution.ID,
			"node_id", node.ID,
			"node_type", node.Type,
		)
	}

	return nil
}

// runNodeAction dispatches action; any failure aborts the traversal.
func (e *Engine) runNodeAction(ctx context.Context, r *run, t *traversal, node *models.Node, action models.ActionDescriptor) error {
	result, err := e.dispatch(ctx, r, node.ID, action)
	if err != nil {
		return err
	}

	if result.Failed() {
		return fmt.Errorf("node %s: %w", node.ID, result.Err)
	}

	t.push(t.index.Successors(node.ID))

	return nil
}

// branch follows the true or false path of a condition. An absent field
// compares as nil, the same way rule conditions see it. A path that does not
// resolve to a node ends the branch.
func (e *Engine) branch(ctx context.Context, r *run, t *traversal, node *models.Node, data models.ConditionData) error {
	value, err := e.store.Get(context.WithoutCancel(ctx), r.execution.Entity, data.Field)
	if errors.Is(err, protocol.ErrFieldNotFound) {
		value, err = nil, nil
	}

	if err != nil {
		return fmt.Errorf("condition %s: %w", node.ID, err)
	}

	next := data.FalsePath
	if condition.Evaluate(value, data.Operator, data.Value) {
		next = data.TruePath
	}

	if _, ok := t.index.Node(next); !ok {
		e.logger.DebugContext(ctx, "Condition path does not resolve, ending branch", "execution_id", r.execution.ID, "node_id", node.ID, "path", next)

		return nil
	}

	t.push([]string{next})

	return nil
}

// delay suspends the execution. With a delay queue the rest of the
// traversal is handed over as a continuation; otherwise the run waits in
// process without holding the entity lock.
func (e *Engine) delay(ctx context.Context, r *run, t *traversal, length time.Duration) error {
	if length <= 0 {
		return nil
	}

	detached := context.WithoutCancel(ctx)
	resumeAt := e.now().Add(length)

	err := e.recorder.Suspend(detached, r.execution, resumeAt)
	if err != nil {
		return fmt.Errorf("suspend execution: %w", err)
	}

	if e.delays != nil {
		return &suspendError{continuation: t.continuation(r.execution.ID, resumeAt)}
	}

	r.release()

	timer := time.NewTimer(length)
	defer timer.Stop()

	cancelled := false

	select {
	case <-timer.C:
	case <-ctx.Done():
		cancelled = true
	}

	err = e.recorder.Resume(detached, r.execution)
	if err != nil {
		return fmt.Errorf("resume execution: %w", err)
	}

	if cancelled {
		return ErrCancelled
	}

	return r.acquire(ctx, e.locker)
}
