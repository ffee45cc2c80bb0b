package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/deskflow/pkg/models"
)

// RunRule fires a rule against entity without evaluating its conditions or
// schedule. The entity type and execution limit still apply.
func (e *Engine) RunRule(ctx context.Context, ruleID string, entity models.EntityRef, triggeredBy string) (string, error) {
	if e.isClosed() {
		return "", ErrEngineClosed
	}

	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		return "", err
	}

	if !rule.IsActive {
		return "", fmt.Errorf("%w: %s", ErrRuleInactive, rule.ID)
	}

	if entity.Type != rule.EntityType {
		return "", &MismatchError{Want: rule.EntityType, Got: entity.Type}
	}

	granted, err := e.rules.ReserveFirings(ctx, rule.ID, 1, e.now())
	if err != nil {
		return "", fmt.Errorf("reserve firing of rule %s: %w", rule.ID, err)
	}

	if granted == 0 {
		return "", fmt.Errorf("%w: %s", ErrExecutionLimitReached, rule.ID)
	}

	r, err := e.prepareRule(ctx, rule, entity, triggeredBy)
	if err != nil {
		return "", err
	}

	err = e.launch(ctx, r)
	if err != nil {
		return r.execution.ID, err
	}

	return r.execution.ID, nil
}

// EvaluateRulesFor fires every active rule of the entity's type that
// matches the entity, highest priority first. The matched executions run
// one after another in that order.
func (e *Engine) EvaluateRulesFor(ctx context.Context, entity models.EntityRef, triggeredBy string) ([]string, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	rules, err := e.rules.ActiveByEntityType(ctx, entity.Type)
	if err != nil {
		return nil, fmt.Errorf("load rules for %s: %w", entity.Type, err)
	}

	if len(rules) == 0 {
		return nil, nil
	}

	snapshot, err := e.store.Load(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", entity, err)
	}

	now := e.now()

	var (
		runs []*run
		errs []error
	)

	for _, rule := range rules {
		if !e.due(rule, now) || !e.matches(ctx, rule, snapshot) {
			continue
		}

		granted, err := e.rules.ReserveFirings(ctx, rule.ID, 1, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("reserve firing of rule %s: %w", rule.ID, err))

			continue
		}

		if granted == 0 {
			e.logger.DebugContext(ctx, "Rule reached its execution limit", "rule_id", rule.ID, "entity", entity.Key())

			continue
		}

		r, err := e.prepareRule(ctx, rule, entity, triggeredBy)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		runs = append(runs, r)
	}

	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.execution.ID)
	}

	if len(runs) > 0 {
		err = e.launch(ctx, runs...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return ids, errors.Join(errs...)
}

// RunSchedulingPass fires every due scheduled rule against the entities of
// its type that match it, honouring the execution limit across the pass.
// Each rule reserves its firings in one step and only the granted ones run.
func (e *Engine) RunSchedulingPass(ctx context.Context, now time.Time) (int, error) {
	if e.isClosed() {
		return 0, ErrEngineClosed
	}

	rules, err := e.rules.ActiveScheduled(ctx)
	if err != nil {
		return 0, fmt.Errorf("load scheduled rules: %w", err)
	}

	var (
		total int
		errs  []error
	)

	for _, rule := range rules {
		if !e.due(rule, now) {
			continue
		}

		targets, err := e.scheduledTargets(ctx, rule)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if len(targets) == 0 {
			continue
		}

		granted, err := e.rules.ReserveFirings(ctx, rule.ID, len(targets), now)
		if err != nil {
			errs = append(errs, fmt.Errorf("reserve firings of rule %s: %w", rule.ID, err))

			continue
		}

		if granted == 0 {
			continue
		}

		targets = targets[:granted]

		for _, target := range targets {
			r, err := e.prepareRule(ctx, rule, target, "schedule")
			if err != nil {
				errs = append(errs, err)

				continue
			}

			err = e.launch(ctx, r)
			if err != nil {
				errs = append(errs, err)

				continue
			}

			total++
		}

		e.logger.InfoContext(ctx, "Scheduled rule fired", "rule_id", rule.ID, "firings", len(targets))
	}

	e.metrics.SchedulingPass(total)

	return total, errors.Join(errs...)
}

func (e *Engine) scheduledTargets(ctx context.Context, rule *models.Rule) ([]models.EntityRef, error) {
	refs, err := e.store.Find(ctx, rule.EntityType)
	if err != nil {
		return nil, fmt.Errorf("find %s entities for rule %s: %w", rule.EntityType, rule.ID, err)
	}

	var targets []models.EntityRef

	for _, ref := range refs {
		if rule.LimitReached(len(targets)) {
			break
		}

		entity, err := e.store.Load(ctx, ref)
		if err != nil {
			e.logger.WarnContext(ctx, "Skipping unreadable entity", "rule_id", rule.ID, "entity", ref.Key(), "error", err)

			continue
		}

		if e.matches(ctx, rule, entity) {
			targets = append(targets, ref)
		}
	}

	return targets, nil
}

// due reports whether rule may fire now: below its limit and, when
// scheduled, past its next activation.
func (e *Engine) due(rule *models.Rule, now time.Time) bool {
	if rule.LimitReached(0) {
		return false
	}

	return !rule.Scheduled() || e.gate.ShouldRunNow(rule, now)
}

func (e *Engine) matches(ctx context.Context, rule *models.Rule, entity *models.Entity) bool {
	matched, err := e.matcher.Match(rule.Conditions, entity)
	if err != nil {
		e.logger.WarnContext(ctx, "Rule condition failed to evaluate", "rule_id", rule.ID, "entity", entity.Ref.Key(), "error", err)

		return false
	}

	return matched
}

// prepareRule records a new execution of rule against entity.
func (e *Engine) prepareRule(ctx context.Context, rule *models.Rule, entity models.EntityRef, triggeredBy string) (*run, error) {
	definition, err := json.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("snapshot rule %s: %w", rule.ID, err)
	}

	execution, err := e.newExecution(entity, models.ModeIsolatedActions, triggeredBy, definition)
	if err != nil {
		return nil, err
	}

	execution.RuleID = rule.ID

	err = e.recorder.Start(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("start execution of rule %s: %w", rule.ID, err)
	}

	actionList := rule.Actions

	return newRun(execution, rule.ID, func(ctx context.Context, r *run) error {
		return e.runActions(ctx, r, actionList)
	}), nil
}

// runActions dispatches each action in order. A failed action is recorded
// and its siblings still run.
func (e *Engine) runActions(ctx context.Context, r *run, list []models.ActionDescriptor) error {
	for i, action := range list {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		result, err := e.dispatch(ctx, r, "action-"+strconv.Itoa(i), action)
		if err != nil {
			return err
		}

		if result.Failed() {
			e.logger.WarnContext(ctx, "Rule action failed, continuing",
				"execution_id", r.execution.ID,
				"rule_id", r.ruleID,
				"action_type", action.Type,
				"error", result.Err,
			)
		}
	}

	return nil
}
