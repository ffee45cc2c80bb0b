package actions

import (
	"errors"
	"fmt"

	"github.com/dukex/deskflow/pkg/models"
)

var (
	ErrUnknownAction = errors.New("unknown action type")
	ErrNoAssignee    = errors.New("no assignable user found")
)

// DispatchError is returned for an action type without a handler.
type DispatchError struct {
	ActionType models.ActionType
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("no handler registered for action %q", e.ActionType)
}

func (e *DispatchError) Is(target error) bool {
	return target == ErrUnknownAction
}

// HandlerError wraps a handler's own failure.
type HandlerError struct {
	ActionType models.ActionType
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.ActionType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// SuspendedStepError marks a step that could not complete because a
// collaborator was unavailable.
type SuspendedStepError struct {
	ActionType models.ActionType
	Err        error
}

func (e *SuspendedStepError) Error() string {
	return fmt.Sprintf("%s could not complete: %v", e.ActionType, e.Err)
}

func (e *SuspendedStepError) Unwrap() error {
	return e.Err
}

func IsDispatchError(err error) bool {
	var target *DispatchError

	return errors.As(err, &target)
}

func IsSuspended(err error) bool {
	var target *SuspendedStepError

	return errors.As(err, &target)
}
