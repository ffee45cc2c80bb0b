// Package graph validates workflow graphs and indexes them for traversal.
package graph

import (
	"errors"
	"fmt"

	"github.com/dukex/deskflow/pkg/condition"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ErrStructural matches every *StructuralError.
var ErrStructural = errors.New("invalid workflow graph")

type Reason string

const (
	ReasonMissingStartOrEnd Reason = "missing_start_or_end"
	ReasonNoEdges           Reason = "no_edges"
	ReasonStartWithoutEdges Reason = "start_without_edges"
	ReasonDeadEnd           Reason = "dead_end"
	ReasonDanglingEdge      Reason = "dangling_edge"
	ReasonDuplicateNode     Reason = "duplicate_node"
	ReasonInvalidNodeData   Reason = "invalid_node_data"
	ReasonCycle             Reason = "cycle"
)

type StructuralError struct {
	Reason  Reason
	NodeID  string
	Message string
	Err     error
}

func (e *StructuralError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Reason, e.NodeID, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

func (e *StructuralError) Is(target error) bool {
	return target == ErrStructural
}

// ReasonOf returns the reason of a structural error, or "" if err is not one.
func ReasonOf(err error) Reason {
	var structural *StructuralError
	if errors.As(err, &structural) {
		return structural.Reason
	}

	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first structural defect of g. The checks run in a
// fixed order so the same graph always yields the same reason.
func Validate(g models.Graph) error {
	checks := []func(models.Graph) error{
		checkStartAndEnd,
		checkHasEdges,
		checkStartEdges,
		checkDeadEnds,
		checkEdgeEndpoints,
		checkDuplicateIDs,
		checkNodeData,
	}

	for _, check := range checks {
		err := check(g)
		if err != nil {
			return err
		}
	}

	return nil
}

func checkStartAndEnd(g models.Graph) error {
	var hasStart, hasEnd bool

	for _, node := range g.Nodes {
		switch node.Type {
		case models.NodeStart:
			hasStart = true
		case models.NodeEnd:
			hasEnd = true
		}
	}

	if !hasStart || !hasEnd {
		return &StructuralError{Reason: ReasonMissingStartOrEnd, Message: "workflow needs at least one start and one end node"}
	}

	return nil
}

func checkHasEdges(g models.Graph) error {
	if len(g.Edges) == 0 {
		return &StructuralError{Reason: ReasonNoEdges, Message: "workflow has no edges"}
	}

	return nil
}

func checkStartEdges(g models.Graph) error {
	out := outDegree(g)

	for _, node := range g.Nodes {
		if node.Type == models.NodeStart && out[node.ID] == 0 {
			return &StructuralError{Reason: ReasonStartWithoutEdges, NodeID: node.ID, Message: "start node has no outgoing edge"}
		}
	}

	return nil
}

func checkDeadEnds(g models.Graph) error {
	out := outDegree(g)

	for _, node := range g.Nodes {
		if node.Type != models.NodeEnd && out[node.ID] == 0 {
			return &StructuralError{Reason: ReasonDeadEnd, NodeID: node.ID, Message: "node has no outgoing edge"}
		}
	}

	return nil
}

func checkEdgeEndpoints(g models.Graph) error {
	ids := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		ids[node.ID] = true
	}

	for i, edge := range g.Edges {
		if !ids[edge.From] {
			return &StructuralError{Reason: ReasonDanglingEdge, NodeID: edge.From, Message: fmt.Sprintf("edge %d starts at an unknown node", i)}
		}

		if !ids[edge.To] {
			return &StructuralError{Reason: ReasonDanglingEdge, NodeID: edge.To, Message: fmt.Sprintf("edge %d points to an unknown node", i)}
		}
	}

	return nil
}

func checkDuplicateIDs(g models.Graph) error {
	seen := make(map[string]bool, len(g.Nodes))

	for _, node := range g.Nodes {
		if seen[node.ID] {
			return &StructuralError{Reason: ReasonDuplicateNode, NodeID: node.ID, Message: "node id is not unique"}
		}

		seen[node.ID] = true
	}

	return nil
}

func checkNodeData(g models.Graph) error {
	for _, node := range g.Nodes {
		err := validateNodeData(node)
		if err != nil {
			return &StructuralError{Reason: ReasonInvalidNodeData, NodeID: node.ID, Message: err.Error(), Err: err}
		}
	}

	return nil
}

func validateNodeData(node *models.Node) error {
	switch data := node.Data.(type) {
	case models.ActionDescriptor:
		return data.Validate(validate)
	case models.ConditionData:
		err := validate.Struct(data)
		if err != nil {
			return err
		}

		if !condition.Known(data.Operator) {
			return fmt.Errorf("%w: %q", condition.ErrUnknownOperator, data.Operator)
		}

		return nil
	case models.AIData, models.DelayData:
		return validate.Struct(data)
	case nil:
		switch node.Type {
		case models.NodeAction, models.NodeCondition, models.NodeAI:
			return fmt.Errorf("%s node has no data", node.Type)
		}

		return nil
	default:
		return nil
	}
}

func outDegree(g models.Graph) map[string]int {
	out := make(map[string]int, len(g.Nodes))
	for _, edge := range g.Edges {
		out[edge.From]++
	}

	return out
}
