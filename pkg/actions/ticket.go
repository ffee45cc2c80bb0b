package actions

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/spf13/cast"
)

func paramsAs[T models.ActionParams](params models.ActionParams) (T, error) {
	p, ok := params.(T)
	if !ok {
		var zero T

		return zero, fmt.Errorf("unexpected parameters %T", params)
	}

	return p, nil
}

func (d *Dispatcher) assignTicket(ctx context.Context, params models.ActionParams, target models.EntityRef) (map[string]any, error) {
	p, err := paramsAs[models.AssignTicketParams](params)
	if err != nil {
		return nil, err
	}

	assignee, err := d.resolveAssignee(ctx, p)
	if err != nil {
		return nil, err
	}

	err = d.store.Update(ctx, target, map[string]any{models.FieldAssignedTo: assignee.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to assign ticket: %w", err)
	}

	return map[string]any{"assigned_to": assignee.ID, "assignee_name": assignee.Name}, nil
}

// resolveAssignee prefers the explicit user and falls back to any member of
// the named department.
func (d *Dispatcher) resolveAssignee(ctx context.Context, p models.AssignTicketParams) (*models.User, error) {
	if p.UserID != "" {
		user, err := d.directory.User(ctx, p.UserID)
		if err == nil {
			return user, nil
		}

		if !errors.Is(err, protocol.ErrUserNotFound) {
			return nil, err
		}
	}

	if p.Department != "" {
		department, err := d.directory.DepartmentByName(ctx, p.Department)
		if err != nil && !errors.Is(err, protocol.ErrDepartmentNotFound) {
			return nil, err
		}

		if department != nil {
			users, err := d.directory.UsersInDepartment(ctx, department.ID)
			if err != nil {
				return nil, err
			}

			if len(users) > 0 {
				return users[0], nil
			}
		}
	}

	return nil, ErrNoAssignee
}

func (d *Dispatcher) updateTicket(ctx context.Context, params models.ActionParams, target models.EntityRef) (map[string]any, error) {
	p, err := paramsAs[models.UpdateTicketParams](params)
	if err != nil {
		return nil, err
	}

	err = d.store.Update(ctx, target, p.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}

	fields := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		fields = append(fields, name)
	}

	slices.Sort(fields)

	return map[string]any{"updated_fields": fields}, nil
}

func (d *Dispatcher) createKnowledgeArticle(ctx context.Context, params models.ActionParams, target models.EntityRef) (map[string]any, error) {
	p, err := paramsAs[models.KnowledgeArticleParams](params)
	if err != nil {
		return nil, err
	}

	ticket, err := d.store.Load(ctx, target)
	if err != nil {
		return nil, err
	}

	title := p.Title
	if title == "" {
		title = fieldString(ticket, models.FieldSubject)
	}

	body := p.Body
	if body == "" {
		body = fieldString(ticket, models.FieldDescription)
	}

	ref, err := d.store.Create(ctx, models.EntityTypeKnowledgeArticle, map[string]any{
		"title":            title,
		"body":             body,
		"category":         p.Category,
		"source_ticket_id": target.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge article: %w", err)
	}

	return map[string]any{"article_id": ref.ID}, nil
}

func fieldString(entity *models.Entity, path string) string {
	value, ok := entity.Field(path)
	if !ok {
		return ""
	}

	return cast.ToString(value)
}
