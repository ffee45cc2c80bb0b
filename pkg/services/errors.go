// Package services implements the use cases behind the HTTP API: workflow and
// rule management, manual triggers and execution queries.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/deskflow/pkg/graph"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/dukex/deskflow/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidSchedule   = errors.New("invalid schedule")
	ErrInvalidCondition  = errors.New("invalid rule condition")
	ErrInvalidAction     = errors.New("invalid action")
	ErrInvalidEntityType = errors.New("invalid entity type")

	// Business Logic Conflicts (409 Conflict).
	ErrRuleAlreadyInactive = errors.New("rule is already inactive")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, ErrInvalidAction) ||
		errors.Is(err, ErrInvalidEntityType) ||
		errors.Is(err, graph.ErrStructural) ||
		errors.Is(err, models.ErrUnknownActionType) ||
		errors.Is(err, workflow.ErrEntityTypeMismatch)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrRuleAlreadyInactive) ||
		errors.Is(err, workflow.ErrWorkflowInactive) ||
		errors.Is(err, workflow.ErrRuleInactive) ||
		errors.Is(err, workflow.ErrExecutionLimitReached) ||
		errors.Is(err, workflow.ErrNotCancellable)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// IsUnavailableError checks if the engine refused work because it is stopping.
func IsUnavailableError(err error) bool {
	return errors.Is(err, workflow.ErrEngineClosed)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
