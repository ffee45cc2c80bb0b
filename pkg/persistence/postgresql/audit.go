package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/google/uuid"
)

type AuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAuditRepository(db *sql.DB, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

func (r *AuditRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate audit record ID: %w", err)
		}

		record.ID = id.String()
	}

	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	payload, err := nullableJSON(record.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, execution_id, action_id, event, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID,
		record.ExecutionID,
		nullIfEmpty(record.ActionID),
		record.Event,
		payload,
		record.RecordedAt,
	)
	if err != nil {
		return persistence.NewRecordError("Append", "audit record", record.ID, err)
	}

	return nil
}

func (r *AuditRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.AuditRecord, error) {
	if uuid.Validate(executionID) != nil {
		return []*models.AuditRecord{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, execution_id, action_id, event, payload, recorded_at
		FROM audit_log
		WHERE execution_id = $1
		ORDER BY recorded_at, id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	records := make([]*models.AuditRecord, 0)

	for rows.Next() {
		var (
			record   models.AuditRecord
			actionID sql.NullString
			payload  []byte
		)

		err := rows.Scan(&record.ID, &record.ExecutionID, &actionID, &record.Event, &payload, &record.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		record.ActionID = actionID.String

		if len(payload) > 0 {
			err = json.Unmarshal(payload, &record.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit payload: %w", err)
			}
		}

		records = append(records, &record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return records, nil
}
