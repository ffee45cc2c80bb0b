// Package persistence provides the storage abstraction for workflows, rules,
// executions and their audit trail.
package persistence

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dukex/deskflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RuleRepository() RuleRepository
	ExecutionRepository() ExecutionRepository
	ActionRecordRepository() ActionRecordRepository
	AuditRepository() AuditRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	List(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

type RuleRepository interface {
	List(ctx context.Context) ([]*models.Rule, error)
	GetByID(ctx context.Context, id string) (*models.Rule, error)
	Save(ctx context.Context, rule *models.Rule) error
	Delete(ctx context.Context, id string) error

	// ActiveByEntityType returns active rules ordered by priority (highest
	// first), ties broken by creation time.
	ActiveByEntityType(ctx context.Context, entityType models.EntityType) ([]*models.Rule, error)
	// ActiveScheduled returns active rules carrying a schedule, in the same order.
	ActiveScheduled(ctx context.Context) ([]*models.Rule, error)
	// ReserveFirings atomically claims up to requested firings under the
	// rule's execution limit. It adds the granted number to the execution
	// count, stamps last_executed_at and returns the grant. A grant of zero
	// leaves the rule untouched.
	ReserveFirings(ctx context.Context, id string, requested int, at time.Time) (int, error)
}

type ExecutionRepository interface {
	// Save inserts or updates an execution. Updating an execution that is
	// already completed or failed returns ErrExecutionFinalized.
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// ListByEntity returns the entity's executions, most recent first.
	ListByEntity(ctx context.Context, ref models.EntityRef) ([]*models.Execution, error)
}

type ActionRecordRepository interface {
	Save(ctx context.Context, record *models.ActionRecord) error
	// ListByExecution returns records ordered by sequence.
	ListByExecution(ctx context.Context, executionID string) ([]*models.ActionRecord, error)
}

type AuditRepository interface {
	Append(ctx context.Context, record *models.AuditRecord) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.AuditRecord, error)
}

// SortRules orders rules by priority descending, then creation time, then id.
func SortRules(rules []*models.Rule) {
	slices.SortStableFunc(rules, func(a, b *models.Rule) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}

		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})
}
