// Package workflow is the execution engine: it runs workflow graphs and
// rule action lists against entities and records what happened.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/deskflow/pkg/actions"
	"github.com/dukex/deskflow/pkg/audit"
	"github.com/dukex/deskflow/pkg/condition"
	"github.com/dukex/deskflow/pkg/delayqueue"
	"github.com/dukex/deskflow/pkg/graph"
	"github.com/dukex/deskflow/pkg/locker"
	"github.com/dukex/deskflow/pkg/metrics"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/otelhelper"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/dukex/deskflow/pkg/schedule"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CyclePolicy decides what happens to graphs whose traversal can loop back.
type CyclePolicy int

const (
	// CyclePolicySkip runs every node at most once; revisits are skipped.
	CyclePolicySkip CyclePolicy = iota
	// CyclePolicyFail rejects graphs with a reachable cycle before any node runs.
	CyclePolicyFail
)

// Dispatcher runs a single action against an entity.
type Dispatcher interface {
	Dispatch(ctx context.Context, action models.ActionDescriptor, target models.EntityRef) actions.Result
}

// Dependencies wires the engine to its collaborators. Persistence, Store
// and Dispatcher are required.
type Dependencies struct {
	Persistence persistence.Persistence
	Store       protocol.EntityStore
	Dispatcher  Dispatcher
	Gate        protocol.ScheduleGate
	Audit       protocol.AuditSink
	Locker      locker.Locker
	// Delays, when set, receives the continuation of executions waiting on
	// a delay node instead of the engine waiting in process.
	Delays  delayqueue.Queue
	Matcher *condition.Matcher
	Tracer  trace.Tracer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Option func(*Engine)

func WithCyclePolicy(policy CyclePolicy) Option {
	return func(e *Engine) {
		e.cyclePolicy = policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

type Engine struct {
	workflows  persistence.WorkflowRepository
	rules      persistence.RuleRepository
	executions persistence.ExecutionRepository
	store      protocol.EntityStore
	dispatcher Dispatcher
	gate       protocol.ScheduleGate
	matcher    *condition.Matcher
	locker     locker.Locker
	delays     delayqueue.Queue
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	recorder   *recorder
	logger     *slog.Logger

	cyclePolicy CyclePolicy
	now         func() time.Time

	mu     sync.Mutex
	runs   map[string]*run
	wg     sync.WaitGroup
	closed bool
}

func NewEngine(deps Dependencies, opts ...Option) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "workflow_engine")

	e := &Engine{
		workflows:  deps.Persistence.WorkflowRepository(),
		rules:      deps.Persistence.RuleRepository(),
		executions: deps.Persistence.ExecutionRepository(),
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		gate:       deps.Gate,
		matcher:    deps.Matcher,
		locker:     deps.Locker,
		delays:     deps.Delays,
		tracer:     deps.Tracer,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
		runs:       make(map[string]*run),
	}

	if e.gate == nil {
		e.gate = schedule.NewGate(logger)
	}

	if e.matcher == nil {
		e.matcher = condition.NewMatcher()
	}

	if e.locker == nil {
		e.locker = locker.NewLocal()
	}

	if e.tracer == nil {
		e.tracer = otelhelper.NoopTracer()
	}

	if e.metrics == nil {
		e.metrics = metrics.New()
	}

	for _, opt := range opts {
		opt(e)
	}

	sink := deps.Audit
	if sink == nil {
		sink = audit.Discard{}
	}

	e.recorder = &recorder{
		executions: e.executions,
		records:    deps.Persistence.ActionRecordRepository(),
		audit:      sink,
		metrics:    e.metrics,
		now:        e.now,
		logger:     logger,
	}

	return e
}

// run is one in-flight execution owned by a single goroutine.
type run struct {
	execution *models.Execution
	ruleID    string
	body      func(ctx context.Context, r *run) error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	unlock func()
}

func newRun(execution *models.Execution, ruleID string, body func(ctx context.Context, r *run) error) *run {
	return &run{
		execution: execution,
		ruleID:    ruleID,
		body:      body,
		done:      make(chan struct{}),
	}
}

func (r *run) acquire(ctx context.Context, l locker.Locker) error {
	unlock, err := l.Lock(ctx, r.execution.Entity.Key())
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		return fmt.Errorf("lock entity %s: %w", r.execution.Entity, err)
	}

	r.unlock = unlock

	return nil
}

func (r *run) release() {
	if r.unlock != nil {
		r.unlock()
		r.unlock = nil
	}
}

// RunWorkflow starts the workflow against entity and returns the execution
// id. A structurally invalid graph is rejected synchronously; its failed
// execution is still recorded and its id returned with the error.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID string, entity models.EntityRef, triggeredBy string) (string, error) {
	if e.isClosed() {
		return "", ErrEngineClosed
	}

	wf, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	if !wf.IsActive {
		return "", fmt.Errorf("%w: %s", ErrWorkflowInactive, wf.ID)
	}

	if entity.Type != wf.EntityType {
		return "", &MismatchError{Want: wf.EntityType, Got: entity.Type}
	}

	definition, err := json.Marshal(wf.Graph)
	if err != nil {
		return "", fmt.Errorf("snapshot workflow %s: %w", wf.ID, err)
	}

	execution, err := e.newExecution(entity, models.ModeAbortOnFailure, triggeredBy, definition)
	if err != nil {
		return "", err
	}

	execution.WorkflowID = wf.ID

	err = e.recorder.Start(ctx, execution)
	if err != nil {
		return "", fmt.Errorf("start execution: %w", err)
	}

	plan, err := e.plan(wf.Graph)
	if err != nil {
		e.logger.WarnContext(ctx, "Rejected workflow graph", "workflow_id", wf.ID, "execution_id", execution.ID, "error", err)

		failErr := e.recorder.Fail(ctx, execution, err)
		if failErr != nil {
			e.logger.ErrorContext(ctx, "Failed to record rejected execution", "execution_id", execution.ID, "error", failErr)
		}

		return execution.ID, err
	}

	err = e.launch(ctx, newRun(execution, "", func(ctx context.Context, r *run) error {
		return e.traverse(ctx, r, plan)
	}))
	if err != nil {
		return execution.ID, err
	}

	return execution.ID, nil
}

// Resume continues a suspended workflow execution from its continuation.
// Continuations of executions already finalized, for example cancelled
// while waiting, are dropped.
func (e *Engine) Resume(ctx context.Context, continuation *models.Continuation) error {
	execution, err := e.executions.GetByID(ctx, continuation.ExecutionID)
	if err != nil {
		return err
	}

	if execution.Status.Terminal() {
		e.logger.InfoContext(ctx, "Dropping continuation of finalized execution", "execution_id", execution.ID, "status", execution.Status)

		return nil
	}

	var g models.Graph

	err = json.Unmarshal(execution.Definition, &g)
	if err != nil || execution.WorkflowID == "" {
		cause := ErrMissingDefinition
		if err != nil {
			cause = fmt.Errorf("%w: %w", ErrMissingDefinition, err)
		}

		return errors.Join(cause, e.recorder.Fail(ctx, execution, cause))
	}

	visited := make(map[string]bool, len(continuation.Visited))
	for _, id := range continuation.Visited {
		visited[id] = true
	}

	plan := &traversal{
		index:   graph.NewIndex(g),
		stack:   slices.Clone(continuation.Stack),
		visited: visited,
	}

	err = e.recorder.Resume(ctx, execution)
	if err != nil {
		return fmt.Errorf("resume execution %s: %w", execution.ID, err)
	}

	return e.launch(ctx, newRun(execution, "", func(ctx context.Context, r *run) error {
		return e.traverse(ctx, r, plan)
	}))
}

// Cancel stops an execution. A running execution stops before its next
// step; an execution waiting in the delay queue is failed immediately.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()

	if ok {
		r.cancel()

		return nil
	}

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.Terminal() || execution.ResumeAt == nil {
		return fmt.Errorf("%w: %s", ErrNotCancellable, executionID)
	}

	return e.recorder.Fail(ctx, execution, ErrCancelled)
}

// CancelRule cancels every in-flight execution of the rule and returns how
// many were signalled.
func (e *Engine) CancelRule(ruleID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancelled := 0

	for _, r := range e.runs {
		if r.ruleID == ruleID {
			r.cancel()
			cancelled++
		}
	}

	return cancelled
}

// Await blocks until the execution stops running in this engine, then
// returns its stored state. A suspended execution is returned while still
// running.
func (e *Engine) Await(ctx context.Context, executionID string) (*models.Execution, error) {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()

	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return e.executions.GetByID(ctx, executionID)
}

// Shutdown stops accepting executions and waits for the running ones.
// When ctx ends first, the remaining executions are cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		for _, r := range e.runs {
			r.cancel()
		}
		e.mu.Unlock()

		return ctx.Err()
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.closed
}

func (e *Engine) newExecution(entity models.EntityRef, mode models.ExecutionMode, triggeredBy string, definition json.RawMessage) (*models.Execution, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	return &models.Execution{
		ID:          id.String(),
		Entity:      entity,
		Mode:        mode,
		TriggeredBy: triggeredBy,
		Definition:  definition,
	}, nil
}

// plan validates g and prepares its traversal from the first start node.
func (e *Engine) plan(g models.Graph) (*traversal, error) {
	err := graph.Validate(g)
	if err != nil {
		return nil, err
	}

	index := graph.NewIndex(g)

	if e.cyclePolicy == CyclePolicyFail {
		if nodeID, found := index.FindCycle(); found {
			return nil, &graph.StructuralError{
				Reason:  graph.ReasonCycle,
				NodeID:  nodeID,
				Message: "node is reachable from itself",
			}
		}
	}

	start, _ := index.Start()

	return &traversal{
		index:   index,
		stack:   []string{start},
		visited: make(map[string]bool),
	}, nil
}

// launch registers runs and executes them one after another on a new
// goroutine.
func (e *Engine) launch(parent context.Context, runs ...*run) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		var errs []error

		for _, r := range runs {
			errs = append(errs, e.recorder.Fail(context.WithoutCancel(parent), r.execution, ErrEngineClosed))
		}

		return errors.Join(append(errs, ErrEngineClosed)...)
	}

	for _, r := range runs {
		r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(parent))
		e.runs[r.execution.ID] = r
	}

	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		for _, r := range runs {
			e.execute(r)
		}
	}()

	return nil
}

func (e *Engine) execute(r *run) {
	defer close(r.done)
	defer e.forget(r)
	defer r.cancel()

	execution := r.execution
	spanName := "workflow.execute"
	attrs := []attribute.KeyValue{
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.ExecutionModeKey, string(execution.Mode)),
		attribute.String(otelhelper.EntityTypeKey, string(execution.Entity.Type)),
		attribute.String(otelhelper.EntityIDKey, execution.Entity.ID),
		attribute.String(otelhelper.TriggeredByKey, execution.TriggeredBy),
	}

	if execution.RuleID != "" {
		spanName = "rule.execute"
		attrs = append(attrs, attribute.String(otelhelper.RuleIDKey, execution.RuleID))
	} else {
		attrs = append(attrs, attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID))
	}

	ctx, span := otelhelper.StartSpan(r.ctx, e.tracer, spanName, attrs...)
	defer span.End()

	err := r.acquire(ctx, e.locker)
	if err == nil {
		err = r.body(ctx, r)
		r.release()
	}

	e.settle(ctx, r, err, span)
}

// settle records the outcome of a run body.
func (e *Engine) settle(ctx context.Context, r *run, err error, span trace.Span) {
	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With("execution_id", r.execution.ID, "entity", r.execution.Entity.Key())

	var suspended *suspendError

	switch {
	case err == nil:
		err = e.recorder.Complete(ctx, r.execution)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to record completed execution", "error", err)
		}

		otelhelper.SetOK(span)
		logger.InfoContext(ctx, "Execution completed", "actions", r.execution.ActionCount)
	case errors.As(err, &suspended):
		pushErr := e.delays.Push(ctx, suspended.continuation)
		if pushErr != nil {
			e.fail(ctx, logger, r, fmt.Errorf("schedule resume: %w", pushErr), span)

			return
		}

		logger.InfoContext(ctx, "Execution suspended", "resume_at", suspended.continuation.ResumeAt)
	default:
		e.fail(ctx, logger, r, err, span)
	}
}

func (e *Engine) fail(ctx context.Context, logger *slog.Logger, r *run, cause error, span trace.Span) {
	otelhelper.SetError(span, cause)
	logger.WarnContext(ctx, "Execution failed", "error", cause)

	err := e.recorder.Fail(ctx, r.execution, cause)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record failed execution", "error", err)
	}
}

// forget drops r from the run table unless a newer run of the same
// execution already replaced it.
func (e *Engine) forget(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runs[r.execution.ID] == r {
		delete(e.runs, r.execution.ID)
	}
}

// dispatch runs one action through the dispatcher, producing exactly one
// action record. The returned error reports a recording failure; the
// action's own failure is in the result. Cancellation never interrupts a
// dispatched action.
func (e *Engine) dispatch(ctx context.Context, r *run, nodeID string, action models.ActionDescriptor) (actions.Result, error) {
	ctx, span := otelhelper.StartSpan(context.WithoutCancel(ctx), e.tracer, "action."+string(action.Type),
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
		attribute.String(otelhelper.ActionTypeKey, string(action.Type)),
	)
	defer span.End()

	record, err := e.recorder.BeginAction(ctx, r.execution, nodeID, action)
	if err != nil {
		return actions.Result{}, fmt.Errorf("record action %s: %w", nodeID, err)
	}

	err = e.recorder.StartAction(ctx, record)
	if err != nil {
		return actions.Result{}, fmt.Errorf("record action %s: %w", nodeID, err)
	}

	result := e.dispatcher.Dispatch(ctx, action, r.execution.Entity)

	err = e.recorder.FinishAction(ctx, record, result)
	if err != nil {
		return result, fmt.Errorf("record action %s: %w", nodeID, err)
	}

	if result.Failed() {
		otelhelper.SetError(span, result.Err)
	} else {
		otelhelper.SetOK(span)
	}

	return result, nil
}
