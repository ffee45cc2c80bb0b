package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/google/uuid"
)

type RuleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRuleRepository(db *sql.DB, logger *slog.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

const ruleColumns = `
	id
  , name
  , description
  , entity_type
  , conditions
  , actions
  , priority
  , is_active
  , schedule
  , execution_limit
  , execution_count
  , last_executed_at
  , created_at
  , updated_at
`

const ruleOrder = ` ORDER BY priority DESC, created_at, id`

func (r *RuleRepository) List(ctx context.Context) ([]*models.Rule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM rules`+ruleOrder)
}

func (r *RuleRepository) ActiveByEntityType(ctx context.Context, entityType models.EntityType) ([]*models.Rule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE is_active AND entity_type = $1`+ruleOrder, entityType)
}

func (r *RuleRepository) ActiveScheduled(ctx context.Context) ([]*models.Rule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE is_active AND COALESCE(schedule, '') <> ''`+ruleOrder)
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*models.Rule, error) {
	if uuid.Validate(id) != nil {
		return nil, persistence.NewRecordError("GetByID", "rule", id, persistence.ErrRuleNotFound)
	}

	rule, err := scanRule(r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRecordError("GetByID", "rule", id, persistence.ErrRuleNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("GetByID", "rule", id, err)
	}

	return rule, nil
}

func (r *RuleRepository) Save(ctx context.Context, rule *models.Rule) error {
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

	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO rules (id, name, description, entity_type, conditions, actions, priority, is_active,
			schedule, execution_limit, execution_count, last_executed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			entity_type = EXCLUDED.entity_type,
			conditions = EXCLUDED.conditions,
			actions = EXCLUDED.actions,
			priority = EXCLUDED.priority,
			is_active = EXCLUDED.is_active,
			schedule = EXCLUDED.schedule,
			execution_limit = EXCLUDED.execution_limit,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.EntityType,
		conditionsJSON,
		actionsJSON,
		rule.Priority,
		rule.IsActive,
		rule.Schedule,
		rule.ExecutionLimit,
		rule.ExecutionCount,
		rule.LastExecutedAt,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRecordError("Save", "rule", rule.ID, err)
	}

	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return persistence.NewRecordError("Delete", "rule", id, persistence.ErrRuleNotFound)
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = $1", id)
	if err != nil {
		return persistence.NewRecordError("Delete", "rule", id, err)
	}

	return expectAffected(result, persistence.NewRecordError("Delete", "rule", id, persistence.ErrRuleNotFound))
}

// ReserveFirings locks the rule row, grants what fits under the execution
// limit and advances the counter in the same transaction. Save never
// overwrites the counter columns of an existing rule.
func (r *RuleRepository) ReserveFirings(ctx context.Context, id string, requested int, at time.Time) (int, error) {
	if requested <= 0 {
		return 0, nil
	}

	if uuid.Validate(id) != nil {
		return 0, persistence.NewRecordError("ReserveFirings", "rule", id, persistence.ErrRuleNotFound)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistence.NewRecordError("ReserveFirings", "rule", id, err)
	}

	defer func() { _ = transaction.Rollback() }()

	var (
		count   int
		ceiling sql.NullInt64
		rule    models.Rule
	)

	err = transaction.QueryRowContext(ctx,
		"SELECT execution_count, execution_limit FROM rules WHERE id = $1 FOR UPDATE", id,
	).Scan(&count, &ceiling)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, persistence.NewRecordError("ReserveFirings", "rule", id, persistence.ErrRuleNotFound)
	}

	if err != nil {
		return 0, persistence.NewRecordError("ReserveFirings", "rule", id, err)
	}

	rule.ExecutionCount = count

	if ceiling.Valid {
		limit := int(ceiling.Int64)
		rule.ExecutionLimit = &limit
	}

	granted := rule.Grant(requested)
	if granted == 0 {
		return 0, nil
	}

	query := `
		UPDATE rules SET
			execution_count = execution_count + $2,
			last_executed_at = CASE
				WHEN last_executed_at IS NULL OR last_executed_at < $3 THEN $3
				ELSE last_executed_at
			END
		WHERE id = $1
	`

	_, err = transaction.ExecContext(ctx, query, id, granted, at.UTC())
	if err != nil {
		return 0, persistence.NewRecordError("ReserveFirings", "rule", id, err)
	}

	err = transaction.Commit()
	if err != nil {
		return 0, persistence.NewRecordError("ReserveFirings", "rule", id, err)
	}

	return granted, nil
}

func (r *RuleRepository) query(ctx context.Context, query string, args ...any) ([]*models.Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	rules := make([]*models.Rule, 0)

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rules = append(rules, rule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

func scanRule(row scanner) (*models.Rule, error) {
	var (
		rule           models.Rule
		conditionsJSON []byte
		actionsJSON    []byte
		limit          sql.NullInt64
	)

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.EntityType,
		&conditionsJSON,
		&actionsJSON,
		&rule.Priority,
		&rule.IsActive,
		&rule.Schedule,
		&limit,
		&rule.ExecutionCount,
		&rule.LastExecutedAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if limit.Valid {
		value := int(limit.Int64)
		rule.ExecutionLimit = &value
	}

	err = json.Unmarshal(conditionsJSON, &rule.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}

	err = json.Unmarshal(actionsJSON, &rule.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	return &rule, nil
}

func expectAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return notFound
	}

	return nil
}
