package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/deskflow/pkg/graph"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	entityTypes = []models.EntityType{
		models.EntityTypeTicket,
		models.EntityTypeUser,
		models.EntityTypeKnowledgeArticle,
	}
)

// Runner starts and stops executions. *workflow.Engine implements it.
type Runner interface {
	RunWorkflow(ctx context.Context, workflowID string, entity models.EntityRef, triggeredBy string) (string, error)
	RunRule(ctx context.Context, ruleID string, entity models.EntityRef, triggeredBy string) (string, error)
	EvaluateRulesFor(ctx context.Context, entity models.EntityRef, triggeredBy string) ([]string, error)
	Cancel(ctx context.Context, executionID string) error
	CancelRule(ruleID string) int
}

type Workflow struct {
	persistence persistence.Persistence
	runner      Runner
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, runner Runner, validate *validator.Validate) *Workflow {
	return &Workflow{
		persistence: persistence,
		runner:      runner,
		validate:    validate,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns every workflow, optionally restricted to one entity type.
func (w *Workflow) List(ctx context.Context, entityType models.EntityType) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	if entityType == "" {
		return workflows, nil
	}

	return slices.DeleteFunc(workflows, func(wf *models.Workflow) bool {
		return wf.EntityType != entityType
	}), nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// Create validates the workflow and its graph and stores it under a new ID.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	err := w.check("Create", workflow)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow ID: %w", err)
	}

	now := time.Now().UTC()
	workflow.ID = id.String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Update replaces an existing workflow by its ID.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.Workflow,
) (*models.Workflow, error) {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	err = w.check("Update", workflow)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Delete removes a workflow by its ID. Past executions are kept.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	_, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return err
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// Run starts the workflow against entity and returns the execution ID.
// A structurally invalid graph still yields the ID of the failed execution.
func (w *Workflow) Run(ctx context.Context, workflowID string, entity models.EntityRef) (string, error) {
	err := w.validate.Struct(entity)
	if err != nil {
		return "", NewValidationError("Run", "INVALID_ENTITY", err.Error(), ErrInvalidRequest)
	}

	return w.runner.RunWorkflow(ctx, workflowID, entity, "manual")
}

func (w *Workflow) check(op string, workflow *models.Workflow) error {
	if workflow == nil {
		return NewValidationError(op, "INVALID_REQUEST", "workflow cannot be nil", ErrInvalidRequest)
	}

	err := w.validate.Struct(workflow)
	if err != nil {
		return NewValidationError(op, "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	if !slices.Contains(entityTypes, workflow.EntityType) {
		return NewValidationError(op, "INVALID_ENTITY_TYPE",
			fmt.Sprintf("unsupported entity type %q", workflow.EntityType), ErrInvalidEntityType)
	}

	err = graph.Validate(workflow.Graph)
	if err != nil {
		return &ServiceError{Op: op, Code: "INVALID_GRAPH", Message: err.Error(), Err: err}
	}

	return nil
}
