package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/deskflow/pkg/condition"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/dukex/deskflow/pkg/schedule"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrRuleNotFound is returned when a rule is not found.
var ErrRuleNotFound = persistence.ErrRuleNotFound

type Rule struct {
	persistence persistence.Persistence
	runner      Runner
	matcher     *condition.Matcher
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewRule(
	persistence persistence.Persistence,
	runner Runner,
	validate *validator.Validate,
	logger *slog.Logger,
) *Rule {
	return &Rule{
		persistence: persistence,
		runner:      runner,
		matcher:     condition.NewMatcher(),
		validate:    validate,
		logger:      logger.With("module", "rule_service"),
	}
}

// List returns every rule ordered by priority, optionally restricted to one
// entity type.
func (r *Rule) List(ctx context.Context, entityType models.EntityType) ([]*models.Rule, error) {
	rules, err := r.persistence.RuleRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	if entityType == "" {
		return rules, nil
	}

	return slices.DeleteFunc(rules, func(rule *models.Rule) bool {
		return rule.EntityType != entityType
	}), nil
}

func (r *Rule) FetchByID(ctx context.Context, id string) (*models.Rule, error) {
	rule, err := r.persistence.RuleRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if rule == nil {
		return nil, ErrRuleNotFound
	}

	return rule, nil
}

// Create validates and stores a new rule. Firing counters always start at zero.
func (r *Rule) Create(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	err := r.check("Create", rule)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate rule ID: %w", err)
	}

	now := time.Now().UTC()
	rule.ID = id.String()
	rule.ExecutionCount = 0
	rule.LastExecutedAt = nil
	rule.CreatedAt = now
	rule.UpdatedAt = now

	err = r.persistence.RuleRepository().Save(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	return rule, nil
}

// Update replaces a rule's definition. The firing counters are kept.
func (r *Rule) Update(ctx context.Context, ruleID string, rule *models.Rule) (*models.Rule, error) {
	existing, err := r.FetchByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	err = r.check("Update", rule)
	if err != nil {
		return nil, err
	}

	rule.ID = ruleID
	rule.ExecutionCount = existing.ExecutionCount
	rule.LastExecutedAt = existing.LastExecutedAt
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	err = r.persistence.RuleRepository().Save(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	if existing.IsActive && !rule.IsActive {
		r.cancelRuns(ctx, ruleID)
	}

	return rule, nil
}

// Deactivate marks the rule inactive and cancels its in-flight executions.
func (r *Rule) Deactivate(ctx context.Context, ruleID string) (*models.Rule, error) {
	rule, err := r.FetchByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if !rule.IsActive {
		return nil, &ServiceError{Op: "Deactivate", Code: "RULE_INACTIVE", Err: ErrRuleAlreadyInactive}
	}

	rule.IsActive = false
	rule.UpdatedAt = time.Now().UTC()

	err = r.persistence.RuleRepository().Save(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate rule: %w", err)
	}

	r.cancelRuns(ctx, ruleID)

	return rule, nil
}

// Run fires the rule against entity without evaluating its conditions.
func (r *Rule) Run(ctx context.Context, ruleID string, entity models.EntityRef) (string, error) {
	err := r.validate.Struct(entity)
	if err != nil {
		return "", NewValidationError("Run", "INVALID_ENTITY", err.Error(), ErrInvalidRequest)
	}

	return r.runner.RunRule(ctx, ruleID, entity, "manual")
}

// Evaluate fires every active rule of the entity's type that matches it.
func (r *Rule) Evaluate(ctx context.Context, entity models.EntityRef) ([]string, error) {
	err := r.validate.Struct(entity)
	if err != nil {
		return nil, NewValidationError("Evaluate", "INVALID_ENTITY", err.Error(), ErrInvalidRequest)
	}

	return r.runner.EvaluateRulesFor(ctx, entity, "manual")
}

func (r *Rule) cancelRuns(ctx context.Context, ruleID string) {
	cancelled := r.runner.CancelRule(ruleID)
	if cancelled > 0 {
		r.logger.InfoContext(ctx, "Cancelled executions of deactivated rule", "rule_id", ruleID, "count", cancelled)
	}
}

func (r *Rule) check(op string, rule *models.Rule) error {
	if rule == nil {
		return NewValidationError(op, "INVALID_REQUEST", "rule cannot be nil", ErrInvalidRequest)
	}

	err := r.validate.Struct(rule)
	if err != nil {
		return NewValidationError(op, "INVALID_RULE", err.Error(), ErrInvalidRequest)
	}

	if !slices.Contains(entityTypes, rule.EntityType) {
		return NewValidationError(op, "INVALID_ENTITY_TYPE",
			fmt.Sprintf("unsupported entity type %q", rule.EntityType), ErrInvalidEntityType)
	}

	if rule.Scheduled() {
		err = schedule.Validate(*rule.Schedule)
		if err != nil {
			return NewValidationError(op, "INVALID_SCHEDULE", err.Error(), ErrInvalidSchedule)
		}
	}

	for _, c := range rule.Conditions.Conditions {
		if !condition.Known(c.Operator) {
			return NewValidationError(op, "INVALID_CONDITION",
				fmt.Sprintf("unknown operator %q on field %s", c.Operator, c.Field), ErrInvalidCondition)
		}
	}

	if rule.Conditions.Expression != "" {
		err = r.matcher.Compile(rule.Conditions.Expression)
		if err != nil {
			return NewValidationError(op, "INVALID_CONDITION", err.Error(), ErrInvalidCondition)
		}
	}

	for i, action := range rule.Actions {
		err = action.Validate(r.validate)
		if err != nil {
			return NewValidationError(op, "INVALID_ACTION", fmt.Sprintf("action %d: %v", i, err), ErrInvalidAction)
		}
	}

	return nil
}
