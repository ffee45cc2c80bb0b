package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// Recipient roles resolved against the target ticket.
const (
	RecipientAssignedUser       = "assigned_user"
	RecipientCreatedBy          = "created_by"
	RecipientDepartmentManagers = "department_managers"
)

const (
	ChannelEmail = "email"
	ChannelInApp = "in_app"
)

func (d *Dispatcher) sendNotification(ctx context.Context, params models.ActionParams, target models.EntityRef) (map[string]any, error) {
	p, err := paramsAs[models.NotificationParams](params)
	if err != nil {
		return nil, err
	}

	channel := p.Channel
	if channel == "" {
		channel = ChannelInApp
	}

	recipients, err := d.resolveRecipients(ctx, target, p.To, channel)
	if err != nil {
		return nil, err
	}

	if len(recipients) > 0 {
		err = d.notifier.Notify(ctx, models.Notification{
			ID:          uuid.New().String(),
			Channel:     channel,
			Recipients:  recipients,
			Subject:     p.Subject,
			Message:     p.Message,
			Entity:      target,
			RequestedAt: d.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to request notification: %w", err)
		}
	}

	return map[string]any{"recipient_count": len(recipients), "channel": channel}, nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, params models.ActionParams, target models.EntityRef) (map[string]any, error) {
	p, err := paramsAs[models.NotificationParams](params)
	if err != nil {
		return nil, err
	}

	p.Channel = ChannelEmail

	return d.sendNotification(ctx, p, target)
}

// resolveRecipients expands roles into addresses, keeping first-seen order
// and dropping duplicates. Roles that do not resolve are skipped.
func (d *Dispatcher) resolveRecipients(ctx context.Context, target models.EntityRef, to []string, channel string) ([]string, error) {
	seen := map[string]bool{}
	recipients := make([]string, 0, len(to))

	add := func(addr string) {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			recipients = append(recipients, addr)
		}
	}

	for _, entry := range to {
		switch entry {
		case RecipientAssignedUser, RecipientCreatedBy:
			path := models.FieldAssignedTo
			if entry == RecipientCreatedBy {
				path = models.FieldCreatedBy
			}

			user, err := d.userAt(ctx, target, path)
			if err != nil {
				return nil, err
			}

			if user != nil {
				add(address(user, channel))
			}
		case RecipientDepartmentManagers:
			departmentID, err := d.field(ctx, target, models.FieldDepartmentID)
			if err != nil {
				return nil, err
			}

			if departmentID == nil {
				continue
			}

			managers, err := d.directory.DepartmentManagers(ctx, cast.ToString(departmentID))
			if err != nil && !errors.Is(err, protocol.ErrDepartmentNotFound) {
				return nil, err
			}

			for _, manager := range managers {
				add(address(manager, channel))
			}
		default:
			if strings.Contains(entry, "@") {
				add(strings.TrimSpace(entry))
			}
		}
	}

	return recipients, nil
}

func (d *Dispatcher) userAt(ctx context.Context, target models.EntityRef, path string) (*models.User, error) {
	id, err := d.field(ctx, target, path)
	if err != nil || id == nil {
		return nil, err
	}

	user, err := d.directory.User(ctx, cast.ToString(id))
	if errors.Is(err, protocol.ErrUserNotFound) {
		return nil, nil
	}

	return user, err
}

func address(user *models.User, channel string) string {
	if channel == ChannelEmail && user.Email != "" {
		return user.Email
	}

	if channel == ChannelInApp {
		return user.ID
	}

	if user.Email != "" {
		return user.Email
	}

	return user.ID
}
