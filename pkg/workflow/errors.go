package workflow

import (
	"errors"
	"fmt"

	"github.com/dukex/deskflow/pkg/models"
)

var (
	ErrWorkflowInactive      = errors.New("workflow is not active")
	ErrRuleInactive          = errors.New("rule is not active")
	ErrEntityTypeMismatch    = errors.New("entity type does not match")
	ErrExecutionLimitReached = errors.New("rule execution limit reached")
	ErrCancelled             = errors.New("execution cancelled")
	ErrNotCancellable        = errors.New("execution is not running")
	ErrEngineClosed          = errors.New("engine is shut down")
	ErrMissingDefinition     = errors.New("execution has no workflow definition")
)

// MismatchError reports a trigger whose entity is not of the type the
// workflow or rule targets.
type MismatchError struct {
	Want models.EntityType
	Got  models.EntityType
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("entity type %q does not match %q", e.Got, e.Want)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrEntityTypeMismatch
}

// suspendError ends a run that handed its remaining traversal to the delay queue.
type suspendError struct {
	continuation *models.Continuation
}

func (e *suspendError) Error() string {
	return "execution suspended until " + e.continuation.ResumeAt.String()
}
