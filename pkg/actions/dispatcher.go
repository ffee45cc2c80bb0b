// Package actions maps action descriptors onto side-effecting handlers.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
)

// HighConfidence is the classifier confidence above which ai_categorize
// writes its suggestion back to the ticket.
const HighConfidence = 0.8

// Result is the outcome of one dispatch. Err is nil on success.
type Result struct {
	Data map[string]any
	Err  error
}

func (r Result) Failed() bool {
	return r.Err != nil
}

type handler func(ctx context.Context, params models.ActionParams, target models.EntityRef) (map[string]any, error)

type Dependencies struct {
	Store      protocol.EntityStore
	Directory  protocol.Directory
	Classifier protocol.Classifier
	Notifier   protocol.Notifier
	Now        func() time.Time
	Logger     *slog.Logger
}

// Dispatcher holds the closed table of action handlers.
type Dispatcher struct {
	store      protocol.EntityStore
	directory  protocol.Directory
	classifier protocol.Classifier
	notifier   protocol.Notifier
	now        func() time.Time
	logger     *slog.Logger
	handlers   map[models.ActionType]handler
}

func NewDispatcher(deps Dependencies) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	d := &Dispatcher{
		store:      deps.Store,
		directory:  deps.Directory,
		classifier: deps.Classifier,
		notifier:   deps.Notifier,
		now:        now,
		logger:     logger.With("module", "actions"),
	}

	d.handlers = map[models.ActionType]handler{
		models.ActionAssignTicket:           d.assignTicket,
		models.ActionUpdateTicket:           d.updateTicket,
		models.ActionSendNotification:       d.sendNotification,
		models.ActionSendEmail:              d.sendEmail,
		models.ActionAICategorize:           d.aiCategorize,
		models.ActionAISuggestResponse:      d.aiSuggestResponse,
		models.ActionAIPredictEscalation:    d.aiPredictEscalation,
		models.ActionCreateKnowledgeArticle: d.createKnowledgeArticle,
	}

	return d
}

// Supports reports whether a handler exists for actionType.
func (d *Dispatcher) Supports(actionType models.ActionType) bool {
	_, ok := d.handlers[actionType]

	return ok
}

// Dispatch runs the handler for action against target.
func (d *Dispatcher) Dispatch(ctx context.Context, action models.ActionDescriptor, target models.EntityRef) Result {
	handle, ok := d.handlers[action.Type]
	if !ok || !action.Known() {
		return Result{Err: &DispatchError{ActionType: action.Type}}
	}

	data, err := handle(ctx, action.Params, target)
	if err != nil {
		d.logger.WarnContext(ctx, "Action failed", "action_type", action.Type, "entity", target.Key(), "error", err)

		if errors.Is(err, protocol.ErrClassifierUnavailable) {
			return Result{Err: &SuspendedStepError{ActionType: action.Type, Err: err}}
		}

		return Result{Err: &HandlerError{ActionType: action.Type, Err: err}}
	}

	d.logger.DebugContext(ctx, "Action completed", "action_type", action.Type, "entity", target.Key())

	return Result{Data: data}
}

// field reads an optional entity field; a missing field yields nil.
func (d *Dispatcher) field(ctx context.Context, target models.EntityRef, path string) (any, error) {
	value, err := d.store.Get(ctx, target, path)
	if errors.Is(err, protocol.ErrFieldNotFound) {
		return nil, nil
	}

	return value, err
}
