package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/google/uuid"
)

type RuleRepository struct {
	mu   sync.Mutex
	docs documents[models.Rule]
}

func NewRuleRepository(root string) *RuleRepository {
	return &RuleRepository{docs: newDocuments[models.Rule](root, "rules")}
}

func (rr *RuleRepository) List(_ context.Context) ([]*models.Rule, error) {
	rules, err := rr.docs.all()
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	persistence.SortRules(rules)

	return rules, nil
}

func (rr *RuleRepository) GetByID(_ context.Context, id string) (*models.Rule, error) {
	rule, err := rr.docs.read(id)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
		return nil, persistence.NewRecordError("GetByID", "rule", id, persistence.ErrRuleNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("GetByID", "rule", id, err)
	}

	return rule, nil
}

func (rr *RuleRepository) Save(_ context.Context, rule *models.Rule) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	if rule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate rule ID: %w", err)
		}

		rule.ID = id.String()
	}

	// Firing counters are owned by ReserveFirings.
	current, err := rr.docs.read(rule.ID)
	if err == nil {
		rule.ExecutionCount = current.ExecutionCount
		rule.LastExecutedAt = current.LastExecutedAt
	}

	err = rr.docs.write(rule.ID, rule)
	if err != nil {
		return persistence.NewRecordError("Save", "rule", rule.ID, err)
	}

	return nil
}

func (rr *RuleRepository) Delete(_ context.Context, id string) error {
	err := rr.docs.remove(id)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
		return persistence.NewRecordError("Delete", "rule", id, persistence.ErrRuleNotFound)
	}

	if err != nil {
		return persistence.NewRecordError("Delete", "rule", id, err)
	}

	return nil
}

func (rr *RuleRepository) ActiveByEntityType(ctx context.Context, entityType models.EntityType) ([]*models.Rule, error) {
	return rr.active(ctx, func(rule *models.Rule) bool {
		return rule.EntityType == entityType
	})
}

func (rr *RuleRepository) ActiveScheduled(ctx context.Context) ([]*models.Rule, error) {
	return rr.active(ctx, (*models.Rule).Scheduled)
}

func (rr *RuleRepository) active(ctx context.Context, keep func(*models.Rule) bool) ([]*models.Rule, error) {
	rules, err := rr.List(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Rule, 0, len(rules))

	for _, rule := range rules {
		if rule.IsActive && keep(rule) {
			active = append(active, rule)
		}
	}

	return active, nil
}

// ReserveFirings performs the read-modify-write under the repository lock.
func (rr *RuleRepository) ReserveFirings(_ context.Context, id string, requested int, at time.Time) (int, error) {
	if requested <= 0 {
		return 0, nil
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	rule, err := rr.docs.read(id)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
		return 0, persistence.NewRecordError("ReserveFirings", "rule", id, persistence.ErrRuleNotFound)
	}

	if err != nil {
		return 0, persistence.NewRecordError("ReserveFirings", "rule", id, err)
	}

	granted := rule.Grant(requested)
	if granted == 0 {
		return 0, nil
	}

	rule.ExecutionCount += granted

	if rule.LastExecutedAt == nil || rule.LastExecutedAt.Before(at) {
		stamp := at.UTC()
		rule.LastExecutedAt = &stamp
	}

	err = rr.docs.write(id, rule)
	if err != nil {
		return 0, persistence.NewRecordError("ReserveFirings", "rule", id, err)
	}

	return granted, nil
}
