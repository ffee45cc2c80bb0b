package file

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sync"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	mu   sync.Mutex
	docs documents[models.Execution]
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{docs: newDocuments[models.Execution](root, "executions")}
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	current, err := er.docs.read(execution.ID)

	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return persistence.NewRecordError("Save", "execution", execution.ID, err)
	case current.Status.Terminal():
		return persistence.NewRecordError("Save", "execution", execution.ID, persistence.ErrExecutionFinalized)
	}

	err = er.docs.write(execution.ID, execution)
	if err != nil {
		return persistence.NewRecordError("Save", "execution", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	execution, err := er.docs.read(id)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
		return nil, persistence.NewRecordError("GetByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("GetByID", "execution", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) ListByEntity(_ context.Context, ref models.EntityRef) ([]*models.Execution, error) {
	executions, err := er.docs.all()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions = slices.DeleteFunc(executions, func(e *models.Execution) bool {
		return e.Entity != ref
	})

	slices.SortFunc(executions, func(a, b *models.Execution) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return executions, nil
}

// ActionRecordRepository stores records under action_records/<execution_id>/.
type ActionRecordRepository struct {
	root string
}

func NewActionRecordRepository(root string) *ActionRecordRepository {
	return &ActionRecordRepository{root: root}
}

func (ar *ActionRecordRepository) docs(executionID string) (documents[models.ActionRecord], error) {
	err := validateID(executionID)
	if err != nil {
		return documents[models.ActionRecord]{}, err
	}

	return newDocuments[models.ActionRecord](ar.root, "action_records", executionID), nil
}

func (ar *ActionRecordRepository) Save(_ context.Context, record *models.ActionRecord) error {
	docs, err := ar.docs(record.ExecutionID)
	if err != nil {
		return persistence.NewRecordError("Save", "action record", record.ID, err)
	}

	err = docs.write(record.ID, record)
	if err != nil {
		return persistence.NewRecordError("Save", "action record", record.ID, err)
	}

	return nil
}

func (ar *ActionRecordRepository) ListByExecution(_ context.Context, executionID string) ([]*models.ActionRecord, error) {
	docs, err := ar.docs(executionID)
	if err != nil {
		return nil, err
	}

	records, err := docs.all()
	if err != nil {
		return nil, fmt.Errorf("failed to list action records: %w", err)
	}

	slices.SortFunc(records, func(a, b *models.ActionRecord) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	return records, nil
}
