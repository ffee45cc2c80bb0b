package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrRuleNotFound      = errors.New("rule not found")
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionFinalized indicates an attempt to rewrite a completed or
	// failed execution.
	ErrExecutionFinalized = errors.New("execution already finalized")

	// ErrInvalidID indicates an identifier that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid identifier")
)

// RecordError wraps a repository failure with the operation and record it
// concerned.
type RecordError struct {
	Op       string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	Resource string // "workflow", "rule", "execution", ...
	ID       string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Resource, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewRecordError(op, resource, id string, err error) *RecordError {
	return &RecordError{Op: op, Resource: resource, ID: id, Err: err}
}

func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

func IsRuleNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return IsWorkflowNotFound(err) || IsRuleNotFound(err) || IsExecutionNotFound(err)
}

func IsExecutionFinalized(err error) bool {
	return errors.Is(err, ErrExecutionFinalized)
}
