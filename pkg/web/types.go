// Package web provides HTTP request and response types for the deskflow API.
package web

import (
	"time"

	"github.com/dukex/deskflow/pkg/models"
)

// WorkflowRequest is the body of workflow create and replace calls. Its raw
// form is checked against the embedded workflow schema first.
type WorkflowRequest struct {
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	EntityType  models.EntityType `json:"entity_type" validate:"required"`
	IsActive    bool              `json:"is_active"`
	Graph       models.Graph      `json:"graph"`
}

func (r WorkflowRequest) toModel() *models.Workflow {
	return &models.Workflow{
		Name:        r.Name,
		Description: r.Description,
		EntityType:  r.EntityType,
		IsActive:    r.IsActive,
		Graph:       r.Graph,
	}
}

// RuleRequest is the body of rule create and replace calls.
type RuleRequest struct {
	Name           string                    `json:"name"                      validate:"required,min=3"`
	Description    string                    `json:"description,omitempty"`
	EntityType     models.EntityType         `json:"entity_type"               validate:"required"`
	Conditions     models.ConditionGroup     `json:"conditions"`
	Actions        []models.ActionDescriptor `json:"actions"                   validate:"required,min=1"`
	Priority       int                       `json:"priority"`
	IsActive       *bool                     `json:"is_active,omitempty"`
	Schedule       *string                   `json:"schedule,omitempty"`
	ExecutionLimit *int                      `json:"execution_limit,omitempty" validate:"omitempty,gt=0"`
}

// toModel builds the rule. Rules are active unless the request says otherwise.
func (r RuleRequest) toModel() *models.Rule {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	return &models.Rule{
		Name:           r.Name,
		Description:    r.Description,
		EntityType:     r.EntityType,
		Conditions:     r.Conditions,
		Actions:        r.Actions,
		Priority:       r.Priority,
		IsActive:       active,
		Schedule:       r.Schedule,
		ExecutionLimit: r.ExecutionLimit,
	}
}

// TriggerRequest names the entity a workflow or rule runs against.
type TriggerRequest struct {
	Entity models.EntityRef `json:"entity" validate:"required"`
}

type TriggerResponse struct {
	ExecutionID string `json:"execution_id"`
}

type EvaluateResponse struct {
	ExecutionIDs []string `json:"execution_ids"`
}

// ExecutionResponse is an execution without its definition snapshot.
type ExecutionResponse struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	RuleID      string                 `json:"rule_id,omitempty"`
	Entity      models.EntityRef       `json:"entity"`
	Mode        models.ExecutionMode   `json:"mode"`
	Status      models.ExecutionStatus `json:"status"`
	TriggeredBy string                 `json:"triggered_by,omitempty"`
	ActionCount int                    `json:"action_count"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ResumeAt    *time.Time             `json:"resume_at,omitempty"`
	Error       *string                `json:"error,omitempty"`
}

func newExecutionResponse(e *models.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:          e.ID,
		WorkflowID:  e.WorkflowID,
		RuleID:      e.RuleID,
		Entity:      e.Entity,
		Mode:        e.Mode,
		Status:      e.Status,
		TriggeredBy: e.TriggeredBy,
		ActionCount: e.ActionCount,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		ResumeAt:    e.ResumeAt,
		Error:       e.Error,
	}
}
