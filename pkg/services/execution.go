package services

import (
	"context"
	"fmt"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
)

// ErrExecutionNotFound is returned when an execution is not found.
var ErrExecutionNotFound = persistence.ErrExecutionNotFound

type Execution struct {
	persistence persistence.Persistence
	runner      Runner
}

func NewExecution(persistence persistence.Persistence, runner Runner) *Execution {
	return &Execution{
		persistence: persistence,
		runner:      runner,
	}
}

func (e *Execution) FetchByID(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, ErrExecutionNotFound
	}

	return execution, nil
}

// ListByEntity returns the entity's executions, most recent first.
func (e *Execution) ListByEntity(ctx context.Context, entity models.EntityRef) ([]*models.Execution, error) {
	executions, err := e.persistence.ExecutionRepository().ListByEntity(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of %s: %w", entity, err)
	}

	return executions, nil
}

// ActionRecords returns the execution's action records in dispatch order.
func (e *Execution) ActionRecords(ctx context.Context, executionID string) ([]*models.ActionRecord, error) {
	_, err := e.FetchByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	records, err := e.persistence.ActionRecordRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action records: %w", err)
	}

	return records, nil
}

// AuditTrail returns the execution's audit log in the order it was written.
func (e *Execution) AuditTrail(ctx context.Context, executionID string) ([]*models.AuditRecord, error) {
	_, err := e.FetchByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	trail, err := e.persistence.AuditRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	return trail, nil
}

// Cancel stops a running or suspended execution.
func (e *Execution) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	_, err := e.FetchByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	err = e.runner.Cancel(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return e.FetchByID(ctx, executionID)
}
