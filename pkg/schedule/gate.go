// Package schedule decides when time-driven rules are due.
package schedule

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether expr is a supported schedule expression.
func Validate(expr string) error {
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	return nil
}

// Gate is a cron based protocol.ScheduleGate. A rule is due once the next
// activation after its last firing (or its creation) is not in the future.
type Gate struct {
	logger *slog.Logger
}

func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{logger: logger.With("module", "schedule")}
}

func (g *Gate) ShouldRunNow(rule *models.Rule, now time.Time) bool {
	if !rule.Scheduled() {
		return true
	}

	schedule, err := parser.Parse(*rule.Schedule)
	if err != nil {
		g.logger.Warn("Skipping rule with invalid schedule", "rule_id", rule.ID, "schedule", *rule.Schedule, "error", err)

		return false
	}

	reference := rule.CreatedAt
	if rule.LastExecutedAt != nil {
		reference = *rule.LastExecutedAt
	}

	return !schedule.Next(reference).After(now)
}
