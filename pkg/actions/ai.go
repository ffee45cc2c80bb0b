package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
)

// aiCategorize writes the suggested priority and department back only when
// the classifier is confident.
func (d *Dispatcher) aiCategorize(ctx context.Context, params models.ActionParams, target models.EntityRef) (map[string]any, error) {
	_, err := paramsAs[models.AICategorizeParams](params)
	if err != nil {
		return nil, err
	}

	ticket, err := d.store.Load(ctx, target)
	if err != nil {
		return nil, err
	}

	result, err := d.classifier.Categorize(ctx, fieldString(ticket, models.FieldSubject), fieldString(ticket, models.FieldDescription))
	if err != nil {
		return nil, fmt.Errorf("categorize: %w", err)
	}

	data := map[string]any{
		"category":   result.Category,
		"department": result.Department,
		"priority":   result.Priority,
		"confidence": result.Confidence,
		"applied":    false,
	}

	if result.Confidence <= HighConfidence {
		return data, nil
	}

	fields := map[string]any{}

	if priorityID, ok := models.PriorityID(result.Priority); ok {
		fields[models.FieldPriorityID] = priorityID
	}

	if result.Department != "" {
		department, err := d.directory.DepartmentByName(ctx, result.Department)
		if err != nil && !errors.Is(err, protocol.ErrDepartmentNotFound) {
			return nil, err
		}

		if department != nil {
			fields[models.FieldDepartmentID] = department.ID
		}
	}

	if len(fields) == 0 {
		return data, nil
	}

	err = d.store.Update(ctx, target, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to apply categorization: %w", err)
	}

	data["applied"] = true
	data["applied_fields"] = fields

	return data, nil
}

func (d *Dispatcher) aiSuggestResponse(ctx context.Context, params models.ActionParams, target models.EntityRef) (map[string]any, error) {
	p, err := paramsAs[models.AISuggestResponseParams](params)
	if err != nil {
		return nil, err
	}

	ticket, err := d.store.Load(ctx, target)
	if err != nil {
		return nil, err
	}

	suggestions, err := d.classifier.SuggestResponses(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("suggest responses: %w", err)
	}

	if p.Limit > 0 && len(suggestions) > p.Limit {
		suggestions = suggestions[:p.Limit]
	}

	return map[string]any{"suggestions": suggestions}, nil
}

func (d *Dispatcher) aiPredictEscalation(ctx context.Context, params models.ActionParams, target models.EntityRef) (map[string]any, error) {
	_, err := paramsAs[models.AIPredictEscalationParams](params)
	if err != nil {
		return nil, err
	}

	ticket, err := d.store.Load(ctx, target)
	if err != nil {
		return nil, err
	}

	probability, err := d.classifier.PredictEscalation(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("predict escalation: %w", err)
	}

	return map[string]any{"escalation_probability": probability}, nil
}
