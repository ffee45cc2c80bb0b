package models

import (
	"encoding/json"
	"time"
)

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// ExecutionMode selects the failure policy of a run.
type ExecutionMode string

const (
	// ModeIsolatedActions records a failing action and carries on (rule path).
	ModeIsolatedActions ExecutionMode = "isolated_actions"
	// ModeAbortOnFailure fails the run on the first failing step (workflow path).
	ModeAbortOnFailure ExecutionMode = "abort_on_failure"
)

// Execution is one run of a workflow or a rule against an entity.
// WorkflowID and RuleID are mutually exclusive.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	RuleID      string          `json:"rule_id,omitempty"`
	Entity      EntityRef       `json:"entity"`
	Mode        ExecutionMode   `json:"mode"`
	Status      ExecutionStatus `json:"status"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
	Definition  json.RawMessage `json:"definition,omitempty"`
	ActionCount int             `json:"action_count"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ResumeAt    *time.Time      `json:"resume_at,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionStarted   ActionStatus = "started"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// ActionRecord is the audit record of one dispatched action.
type ActionRecord struct {
	ID          string           `json:"id"`
	ExecutionID string           `json:"execution_id"`
	Sequence    int              `json:"sequence"`
	NodeID      string           `json:"node_id,omitempty"`
	ActionType  ActionType       `json:"action_type"`
	Input       ActionDescriptor `json:"input"`
	Status      ActionStatus     `json:"status"`
	Result      map[string]any   `json:"result,omitempty"`
	Error       *string          `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
}

// Continuation is the persisted traversal state of an execution suspended
// on a delay node.
type Continuation struct {
	ExecutionID string    `json:"execution_id"`
	Stack       []string  `json:"stack"`
	Visited     []string  `json:"visited"`
	ResumeAt    time.Time `json:"resume_at"`
}

type AuditRecord struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	ActionID    string         `json:"action_id,omitempty"`
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

// Notification is a fire-and-forget delivery request.
type Notification struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	Recipients  []string  `json:"recipients"`
	Subject     string    `json:"subject,omitempty"`
	Message     string    `json:"message"`
	Entity      EntityRef `json:"entity"`
	RequestedAt time.Time `json:"requested_at"`
}
