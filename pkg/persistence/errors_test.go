package persistence_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("record error unwraps to sentinel", func(t *testing.T) {
		err := persistence.NewRecordError("GetByID", "rule", "rule-123", persistence.ErrRuleNotFound)

		assert.True(t, persistence.IsRuleNotFound(err))
		assert.True(t, persistence.IsNotFound(err))
		assert.False(t, persistence.IsWorkflowNotFound(err))
		assert.True(t, errors.Is(err, persistence.ErrRuleNotFound))
	})

	t.Run("record error contains context", func(t *testing.T) {
		err := persistence.NewRecordError("Save", "execution", "exec-1", persistence.ErrExecutionFinalized)

		assert.Contains(t, err.Error(), "Save")
		assert.Contains(t, err.Error(), "execution exec-1")
		assert.Contains(t, err.Error(), "already finalized")
		assert.True(t, persistence.IsExecutionFinalized(fmt.Errorf("wrapped: %w", err)))
	})
}

func TestSortRules(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := []*models.Rule{
		{ID: "low", Priority: 1, CreatedAt: base},
		{ID: "late", Priority: 5, CreatedAt: base.Add(time.Hour)},
		{ID: "early", Priority: 5, CreatedAt: base},
		{ID: "mid", Priority: 3, CreatedAt: base},
	}

	persistence.SortRules(rules)

	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		ids = append(ids, rule.ID)
	}

	assert.Equal(t, []string{"early", "late", "mid", "low"}, ids)
}
