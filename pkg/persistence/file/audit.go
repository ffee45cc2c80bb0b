package file

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/google/uuid"
)

type AuditRepository struct {
	root string
}

func NewAuditRepository(root string) *AuditRepository {
	return &AuditRepository{root: root}
}

func (ar *AuditRepository) Append(_ context.Context, record *models.AuditRecord) error {
	err := validateID(record.ExecutionID)
	if err != nil {
		return persistence.NewRecordError("Append", "audit record", record.ExecutionID, err)
	}

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

	docs := newDocuments[models.AuditRecord](ar.root, "audit", record.ExecutionID)

	err = docs.write(record.ID, record)
	if err != nil {
		return persistence.NewRecordError("Append", "audit record", record.ID, err)
	}

	return nil
}

func (ar *AuditRepository) ListByExecution(_ context.Context, executionID string) ([]*models.AuditRecord, error) {
	err := validateID(executionID)
	if err != nil {
		return nil, err
	}

	records, err := newDocuments[models.AuditRecord](ar.root, "audit", executionID).all()
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	slices.SortFunc(records, func(a, b *models.AuditRecord) int {
		if c := a.RecordedAt.Compare(b.RecordedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return records, nil
}
