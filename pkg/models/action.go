package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type ActionType string

const (
	ActionAssignTicket           ActionType = "assign_ticket"
	ActionUpdateTicket           ActionType = "update_ticket"
	ActionSendNotification       ActionType = "send_notification"
	ActionSendEmail              ActionType = "send_email"
	ActionAICategorize           ActionType = "ai_categorize"
	ActionAISuggestResponse      ActionType = "ai_suggest_response"
	ActionAIPredictEscalation    ActionType = "ai_predict_escalation"
	ActionCreateKnowledgeArticle ActionType = "create_knowledge_article"
)

var ErrUnknownActionType = errors.New("unknown action type")

// ActionParams is the closed set of per-action parameter payloads.
type ActionParams interface {
	actionParams()
}

type AssignTicketParams struct {
	UserID     string `json:"user_id,omitempty"    validate:"required_without=Department"`
	Department string `json:"department,omitempty" validate:"required_without=UserID"`
}

type UpdateTicketParams struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

// NotificationParams serves both send_notification and send_email. Entries of
// To are roles (assigned_user, created_by, department_managers) or addresses.
type NotificationParams struct {
	To      []string `json:"to"                validate:"required,min=1,dive,required"`
	Subject string   `json:"subject,omitempty"`
	Message string   `json:"message"           validate:"required"`
	Channel string   `json:"channel,omitempty" validate:"omitempty,oneof=email slack in_app"`
}

type AICategorizeParams struct{}

type AISuggestResponseParams struct {
	Limit int `json:"limit,omitempty" validate:"gte=0"`
}

type AIPredictEscalationParams struct{}

type KnowledgeArticleParams struct {
	Title    string `json:"title,omitempty"`
	Body     string `json:"body,omitempty"`
	Category string `json:"category,omitempty"`
}

// UnknownParams keeps the raw payload of an action type the engine does not know.
type UnknownParams struct {
	Values map[string]any `json:"-"`
}

func (AssignTicketParams) actionParams()        {}
func (UpdateTicketParams) actionParams()        {}
func (NotificationParams) actionParams()        {}
func (AICategorizeParams) actionParams()        {}
func (AISuggestResponseParams) actionParams()   {}
func (AIPredictEscalationParams) actionParams() {}
func (KnowledgeArticleParams) actionParams()    {}
func (UnknownParams) actionParams()             {}

// ActionDescriptor is a typed action. Its JSON form is flat:
// {"type": "assign_ticket", "department": "billing"}.
type ActionDescriptor struct {
	Type   ActionType
	Params ActionParams
}

func (ActionDescriptor) nodeData() NodeType { return NodeAction }

// Known reports whether the action type has a registered parameter shape.
func (a ActionDescriptor) Known() bool {
	_, unknown := a.Params.(UnknownParams)

	return a.Params != nil && !unknown
}

// Validate checks the action type and its parameters.
func (a ActionDescriptor) Validate(v *validator.Validate) error {
	if !a.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, a.Type)
	}

	err := v.Struct(a.Params)
	if err != nil {
		return fmt.Errorf("invalid %s parameters: %w", a.Type, err)
	}

	return nil
}

func (a ActionDescriptor) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}

	switch p := a.Params.(type) {
	case nil:
	case UnknownParams:
		for k, v := range p.Values {
			fields[k] = v
		}
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}

		err = json.Unmarshal(raw, &fields)
		if err != nil {
			return nil, err
		}
	}

	fields["type"] = a.Type

	return json.Marshal(fields)
}

func (a *ActionDescriptor) UnmarshalJSON(data []byte) error {
	var head struct {
		Type ActionType `json:"type"`
	}

	err := json.Unmarshal(data, &head)
	if err != nil {
		return err
	}

	params, err := decodeActionParams(head.Type, data)
	if err != nil {
		return fmt.Errorf("decode %s action: %w", head.Type, err)
	}

	a.Type = head.Type
	a.Params = params

	return nil
}

func decodeActionParams(actionType ActionType, data []byte) (ActionParams, error) {
	switch actionType {
	case ActionAssignTicket:
		return decodeInto[AssignTicketParams](data)
	case ActionUpdateTicket:
		return decodeInto[UpdateTicketParams](data)
	case ActionSendNotification, ActionSendEmail:
		return decodeInto[NotificationParams](data)
	case ActionAICategorize:
		return AICategorizeParams{}, nil
	case ActionAISuggestResponse:
		return decodeInto[AISuggestResponseParams](data)
	case ActionAIPredictEscalation:
		return AIPredictEscalationParams{}, nil
	case ActionCreateKnowledgeArticle:
		return decodeInto[KnowledgeArticleParams](data)
	default:
		values := map[string]any{}

		err := json.Unmarshal(data, &values)
		if err != nil {
			return nil, err
		}

		delete(values, "type")

		return UnknownParams{Values: values}, nil
	}
}

func decodeInto[T ActionParams](data []byte) (ActionParams, error) {
	var params T

	err := json.Unmarshal(data, &params)
	if err != nil {
		return nil, err
	}

	return params, nil
}
