package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type NodeType string

const (
	NodeStart     NodeType = "start"
	NodeAction    NodeType = "action"
	NodeCondition NodeType = "condition"
	NodeAI        NodeType = "ai"
	NodeDelay     NodeType = "delay"
	NodeEnd       NodeType = "end"
)

// NodeData is the closed set of node payloads, one per node type.
type NodeData interface {
	nodeData() NodeType
}

type StartData struct{}

type EndData struct{}

// ConditionData routes to TruePath or FalsePath, which are node ids.
type ConditionData struct {
	Field     string `json:"field"                validate:"required"`
	Operator  string `json:"operator"             validate:"required"`
	Value     any    `json:"value"`
	TruePath  string `json:"true_path,omitempty"`
	FalsePath string `json:"false_path,omitempty"`
}

type AIType string

const (
	AICategorize        AIType = "categorize"
	AISuggestResponse   AIType = "suggest_response"
	AIPredictEscalation AIType = "predict_escalation"
)

type AIData struct {
	AIType AIType `json:"ai_type" validate:"required,oneof=categorize suggest_response predict_escalation"`
}

// Action maps the ai sub-type onto the dispatcher's ai_* action.
func (d AIData) Action() ActionDescriptor {
	switch d.AIType {
	case AICategorize:
		return ActionDescriptor{Type: ActionAICategorize, Params: AICategorizeParams{}}
	case AISuggestResponse:
		return ActionDescriptor{Type: ActionAISuggestResponse, Params: AISuggestResponseParams{}}
	case AIPredictEscalation:
		return ActionDescriptor{Type: ActionAIPredictEscalation, Params: AIPredictEscalationParams{}}
	default:
		actionType := ActionType("ai_" + string(d.AIType))

		return ActionDescriptor{Type: actionType, Params: UnknownParams{}}
	}
}

// DelayData holds either a direct Seconds value or a Duration in Unit.
type DelayData struct {
	Seconds  *float64 `json:"seconds,omitempty"  validate:"omitempty,gte=0"`
	Duration *float64 `json:"duration,omitempty" validate:"omitempty,gte=0"`
	Unit     string   `json:"unit,omitempty"`
}

var delayUnits = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
}

// Length computes the wait. An unrecognized unit yields zero.
func (d DelayData) Length() time.Duration {
	if d.Seconds != nil {
		return seconds(*d.Seconds)
	}

	if d.Duration == nil {
		return 0
	}

	unit, ok := delayUnits[d.Unit]
	if !ok {
		return 0
	}

	return seconds(*d.Duration * unit.Seconds())
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}

	return time.Duration(s * float64(time.Second))
}

// UnknownNodeData keeps the payload of a node type this engine does not know.
type UnknownNodeData struct {
	Raw json.RawMessage
}

func (StartData) nodeData() NodeType       { return NodeStart }
func (EndData) nodeData() NodeType         { return NodeEnd }
func (ConditionData) nodeData() NodeType   { return NodeCondition }
func (AIData) nodeData() NodeType          { return NodeAI }
func (DelayData) nodeData() NodeType       { return NodeDelay }
func (UnknownNodeData) nodeData() NodeType { return "" }

func (d UnknownNodeData) MarshalJSON() ([]byte, error) {
	if len(d.Raw) == 0 {
		return []byte("null"), nil
	}

	return d.Raw, nil
}

type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data,omitempty"`
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID   string          `json:"id"`
		Type NodeType        `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	err := json.Unmarshal(b, &raw)
	if err != nil {
		return err
	}

	data, err := decodeNodeData(raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("node %s: %w", raw.ID, err)
	}

	n.ID = raw.ID
	n.Type = raw.Type
	n.Data = data

	return nil
}

func decodeNodeData(nodeType NodeType, raw json.RawMessage) (NodeData, error) {
	empty := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))

	switch nodeType {
	case NodeStart:
		return StartData{}, nil
	case NodeEnd:
		return EndData{}, nil
	case NodeAction:
		var action ActionDescriptor
		if empty {
			return action, nil
		}

		err := json.Unmarshal(raw, &action)

		return action, err
	case NodeCondition:
		return decodeData[ConditionData](raw, empty)
	case NodeAI:
		return decodeData[AIData](raw, empty)
	case NodeDelay:
		return decodeData[DelayData](raw, empty)
	default:
		return UnknownNodeData{Raw: raw}, nil
	}
}

func decodeData[T NodeData](raw json.RawMessage, empty bool) (NodeData, error) {
	var data T
	if empty {
		return data, nil
	}

	err := json.Unmarshal(raw, &data)
	if err != nil {
		return nil, err
	}

	return data, nil
}

type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []Edge  `json:"edges"`
}
