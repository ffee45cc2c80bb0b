package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	docs documents[models.Workflow]
}

func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{docs: newDocuments[models.Workflow](root, "workflows")}
}

// List returns all workflows ordered by name.
func (wr *WorkflowRepository) List(_ context.Context) ([]*models.Workflow, error) {
	workflows, err := wr.docs.all()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	slices.SortFunc(workflows, func(a, b *models.Workflow) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return workflows, nil
}

func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	workflow, err := wr.docs.read(id)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
		return nil, persistence.NewRecordError("GetByID", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("GetByID", "workflow", id, err)
	}

	return workflow, nil
}

func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	err := wr.docs.write(workflow.ID, workflow)
	if err != nil {
		return persistence.NewRecordError("Save", "workflow", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	err := wr.docs.remove(id)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
		return persistence.NewRecordError("Delete", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return persistence.NewRecordError("Delete", "workflow", id, err)
	}

	return nil
}
