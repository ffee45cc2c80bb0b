package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/google/uuid"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , rule_id
  , entity_type
  , entity_id
  , mode
  , status
  , triggered_by
  , definition
  , action_count
  , started_at
  , completed_at
  , resume_at
  , error_message
`

// Save upserts the execution. The conflict branch only fires while the stored
// row is still running, which makes terminal states final.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	definition, err := nullableJSON(execution.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			action_count = EXCLUDED.action_count,
			completed_at = EXCLUDED.completed_at,
			resume_at = EXCLUDED.resume_at,
			error_message = EXCLUDED.error_message
		WHERE executions.status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		nullIfEmpty(execution.WorkflowID),
		nullIfEmpty(execution.RuleID),
		execution.Entity.Type,
		execution.Entity.ID,
		execution.Mode,
		execution.Status,
		execution.TriggeredBy,
		definition,
		execution.ActionCount,
		execution.StartedAt,
		execution.CompletedAt,
		execution.ResumeAt,
		execution.Error,
	)
	if err != nil {
		return persistence.NewRecordError("Save", "execution", execution.ID, err)
	}

	return expectAffected(result, persistence.NewRecordError("Save", "execution", execution.ID, persistence.ErrExecutionFinalized))
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	if uuid.Validate(id) != nil {
		return nil, persistence.NewRecordError("GetByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	execution, err := scanExecution(r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRecordError("GetByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("GetByID", "execution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByEntity(ctx context.Context, ref models.EntityRef) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY started_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, ref.Type, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution  models.Execution
		workflowID sql.NullString
		ruleID     sql.NullString
		definition []byte
	)

	err := row.Scan(
		&execution.ID,
		&workflowID,
		&ruleID,
		&execution.Entity.Type,
		&execution.Entity.ID,
		&execution.Mode,
		&execution.Status,
		&execution.TriggeredBy,
		&definition,
		&execution.ActionCount,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.ResumeAt,
		&execution.Error,
	)
	if err != nil {
		return nil, err
	}

	execution.WorkflowID = workflowID.String
	execution.RuleID = ruleID.String

	if len(definition) > 0 {
		execution.Definition = json.RawMessage(definition)
	}

	return &execution, nil
}

// ActionRecordRepository handles action record database operations.
type ActionRecordRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewActionRecordRepository(db *sql.DB, logger *slog.Logger) *ActionRecordRepository {
	return &ActionRecordRepository{db: db, logger: logger}
}

func (r *ActionRecordRepository) Save(ctx context.Context, record *models.ActionRecord) error {
	input, err := json.Marshal(record.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal action input: %w", err)
	}

	result, err := nullableJSON(record.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal action result: %w", err)
	}

	query := `
		INSERT INTO action_records (id, execution_id, sequence, node_id, action_type, input, status,
			result, error_message, created_at, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ID,
		record.ExecutionID,
		record.Sequence,
		record.NodeID,
		record.ActionType,
		input,
		record.Status,
		result,
		record.Error,
		record.CreatedAt,
		record.StartedAt,
		record.CompletedAt,
		record.DurationMs,
	)
	if err != nil {
		return persistence.NewRecordError("Save", "action record", record.ID, err)
	}

	return nil
}

func (r *ActionRecordRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ActionRecord, error) {
	if uuid.Validate(executionID) != nil {
		return []*models.ActionRecord{}, nil
	}

	query := `
		SELECT id, execution_id, sequence, node_id, action_type, input, status,
			result, error_message, created_at, started_at, completed_at, duration_ms
		FROM action_records
		WHERE execution_id = $1
		ORDER BY sequence
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query action records: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	records := make([]*models.ActionRecord, 0)

	for rows.Next() {
		var (
			record models.ActionRecord
			input  []byte
			result []byte
		)

		err := rows.Scan(
			&record.ID,
			&record.ExecutionID,
			&record.Sequence,
			&record.NodeID,
			&record.ActionType,
			&input,
			&record.Status,
			&result,
			&record.Error,
			&record.CreatedAt,
			&record.StartedAt,
			&record.CompletedAt,
			&record.DurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action record: %w", err)
		}

		err = json.Unmarshal(input, &record.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal action input: %w", err)
		}

		if len(result) > 0 {
			err = json.Unmarshal(result, &record.Result)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal action result: %w", err)
			}
		}

		records = append(records, &record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating action records: %w", err)
	}

	return records, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}
