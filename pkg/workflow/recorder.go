package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/deskflow/pkg/actions"
	"github.com/dukex/deskflow/pkg/audit"
	"github.com/dukex/deskflow/pkg/metrics"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/google/uuid"
)

// recorder owns the persisted lifecycle of executions and action records.
// Audit failures are logged and never fail a run.
type recorder struct {
	executions persistence.ExecutionRepository
	records    persistence.ActionRecordRepository
	audit      protocol.AuditSink
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *slog.Logger
}

func kindOf(execution *models.Execution) string {
	if execution.WorkflowID != "" {
		return metrics.KindWorkflow
	}

	return metrics.KindRule
}

func (rc *recorder) Start(ctx context.Context, execution *models.Execution) error {
	execution.Status = models.ExecutionRunning
	execution.StartedAt = rc.now()

	err := rc.executions.Save(ctx, execution)
	if err != nil {
		return err
	}

	rc.metrics.ExecutionStarted()
	rc.record(ctx, execution.ID, "", audit.ExecutionStarted, map[string]any{
		"workflow_id":  execution.WorkflowID,
		"rule_id":      execution.RuleID,
		"entity":       execution.Entity.Key(),
		"mode":         string(execution.Mode),
		"triggered_by": execution.TriggeredBy,
	})

	return nil
}

// BeginAction creates the pending record of the execution's next action.
func (rc *recorder) BeginAction(ctx context.Context, execution *models.Execution, nodeID string, action models.ActionDescriptor) (*models.ActionRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	execution.ActionCount++

	record := &models.ActionRecord{
		ID:          id.String(),
		ExecutionID: execution.ID,
		Sequence:    execution.ActionCount,
		NodeID:      nodeID,
		ActionType:  action.Type,
		Input:       action,
		Status:      models.ActionPending,
		CreatedAt:   rc.now(),
	}

	err = rc.records.Save(ctx, record)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (rc *recorder) StartAction(ctx context.Context, record *models.ActionRecord) error {
	startedAt := rc.now()
	record.Status = models.ActionStarted
	record.StartedAt = &startedAt

	err := rc.records.Save(ctx, record)
	if err != nil {
		return err
	}

	rc.record(ctx, record.ExecutionID, record.ID, audit.ActionStarted, map[string]any{
		"action_type": string(record.ActionType),
		"node_id":     record.NodeID,
	})

	return nil
}

func (rc *recorder) FinishAction(ctx context.Context, record *models.ActionRecord, result actions.Result) error {
	completedAt := rc.now()
	record.CompletedAt = &completedAt

	if record.StartedAt != nil {
		record.DurationMs = completedAt.Sub(*record.StartedAt).Milliseconds()
	}

	event := audit.ActionCompleted
	payload := map[string]any{"action_type": string(record.ActionType)}

	if result.Failed() {
		message := result.Err.Error()
		record.Status = models.ActionFailed
		record.Error = &message
		event = audit.ActionFailed
		payload["error"] = message
	} else {
		record.Status = models.ActionCompleted
		record.Result = result.Data
	}

	err := rc.records.Save(ctx, record)
	if err != nil {
		return err
	}

	rc.metrics.ActionFinished(string(record.ActionType), string(record.Status), time.Duration(record.DurationMs)*time.Millisecond)
	rc.record(ctx, record.ExecutionID, record.ID, event, payload)

	return nil
}

func (rc *recorder) Complete(ctx context.Context, execution *models.Execution) error {
	return rc.finish(ctx, execution, models.ExecutionCompleted, nil)
}

func (rc *recorder) Fail(ctx context.Context, execution *models.Execution, cause error) error {
	return rc.finish(ctx, execution, models.ExecutionFailed, cause)
}

func (rc *recorder) finish(ctx context.Context, execution *models.Execution, status models.ExecutionStatus, cause error) error {
	suspended := execution.ResumeAt != nil
	completedAt := rc.now()

	execution.Status = status
	execution.CompletedAt = &completedAt
	execution.ResumeAt = nil

	event := audit.ExecutionCompleted
	payload := map[string]any{"action_count": execution.ActionCount}

	if cause != nil {
		message := cause.Error()
		execution.Error = &message
		event = audit.ExecutionFailed
		payload["error"] = message
	}

	err := rc.executions.Save(ctx, execution)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionFinalized) {
			rc.logger.InfoContext(ctx, "Execution was already finalized", "execution_id", execution.ID)
		}

		return err
	}

	elapsed := completedAt.Sub(execution.StartedAt)
	if suspended {
		rc.metrics.ExecutionStarted()
	}

	rc.metrics.ExecutionFinished(kindOf(execution), string(status), elapsed)
	rc.record(ctx, execution.ID, "", event, payload)

	return nil
}

// Suspend keeps the execution running and stamps when it will resume.
func (rc *recorder) Suspend(ctx context.Context, execution *models.Execution, resumeAt time.Time) error {
	execution.ResumeAt = &resumeAt

	err := rc.executions.Save(ctx, execution)
	if err != nil {
		return err
	}

	rc.metrics.ExecutionsActive.Dec()
	rc.metrics.ExecutionsSuspended.Inc()
	rc.record(ctx, execution.ID, "", audit.ExecutionSuspended, map[string]any{
		"resume_at": resumeAt.UTC().Format(time.RFC3339Nano),
	})

	return nil
}

func (rc *recorder) Resume(ctx context.Context, execution *models.Execution) error {
	execution.ResumeAt = nil

	err := rc.executions.Save(ctx, execution)
	if err != nil {
		return err
	}

	rc.metrics.ExecutionStarted()
	rc.record(ctx, execution.ID, "", audit.ExecutionResumed, nil)

	return nil
}

func (rc *recorder) record(ctx context.Context, executionID, actionID, event string, payload map[string]any) {
	err := rc.audit.Record(ctx, executionID, actionID, event, payload)
	if err != nil {
		rc.logger.WarnContext(ctx, "Failed to record audit event", "execution_id", executionID, "event", event, "error", err)
	}
}
