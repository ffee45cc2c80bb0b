// Package protocol declares the external collaborators the engine depends on.
package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/deskflow/pkg/models"
)

var (
	ErrEntityNotFound        = errors.New("entity not found")
	ErrFieldNotFound         = errors.New("field not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrDepartmentNotFound    = errors.New("department not found")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)

// EntityStore reads and writes entity fields. Each Update is its own
// transaction.
type EntityStore interface {
	Get(ctx context.Context, ref models.EntityRef, path string) (any, error)
	Update(ctx context.Context, ref models.EntityRef, fields map[string]any) error
	Load(ctx context.Context, ref models.EntityRef) (*models.Entity, error)
	Create(ctx context.Context, entityType models.EntityType, fields map[string]any) (models.EntityRef, error)
	Find(ctx context.Context, entityType models.EntityType) ([]models.EntityRef, error)
}

type Directory interface {
	User(ctx context.Context, id string) (*models.User, error)
	UsersInDepartment(ctx context.Context, departmentID string) ([]*models.User, error)
	DepartmentManagers(ctx context.Context, departmentID string) ([]*models.User, error)
	DepartmentByName(ctx context.Context, name string) (*models.Department, error)
}

type Categorization struct {
	Category   string  `json:"category"`
	Department string  `json:"department"`
	Priority   string  `json:"priority"`
	Confidence float64 `json:"confidence"`
}

type Classifier interface {
	Categorize(ctx context.Context, subject, body string) (*Categorization, error)
	SuggestResponses(ctx context.Context, entity *models.Entity) ([]string, error)
	PredictEscalation(ctx context.Context, entity *models.Entity) (float64, error)
}

// Notifier accepts delivery requests without confirming delivery.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// AuditSink appends audit records.
type AuditSink interface {
	Record(ctx context.Context, executionID, actionID, event string, payload map[string]any) error
}

// ScheduleGate decides whether a time-driven rule is due.
type ScheduleGate interface {
	ShouldRunNow(rule *models.Rule, now time.Time) bool
}
