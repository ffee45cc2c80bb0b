package classifier

import (
	"context"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
)

// Unavailable stands in when no classifier service is configured. Every call
// fails with protocol.ErrClassifierUnavailable, so ai actions are recorded as
// failed instead of silently skipped.
type Unavailable struct{}

func (Unavailable) Categorize(context.Context, string, string) (*protocol.Categorization, error) {
	return nil, protocol.ErrClassifierUnavailable
}

func (Unavailable) SuggestResponses(context.Context, *models.Entity) ([]string, error) {
	return nil, protocol.ErrClassifierUnavailable
}

func (Unavailable) PredictEscalation(context.Context, *models.Entity) (float64, error) {
	return 0, protocol.ErrClassifierUnavailable
}
