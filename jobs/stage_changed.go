package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-crm/internal/jobs"
)

const (
	// TaskCRMStageChanged records a confirmed board move in the stage history.
	TaskCRMStageChanged = "crm:stage_changed"
)

// StageChangedPayload describes one committed stage move.
type StageChangedPayload struct {
	OpportunityID string    `json:"opportunity_id"`
	TenantID      string    `json:"tenant_id"`
	FromStage     string    `json:"from_stage"`
	ToStage       string    `json:"to_stage"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}

// StageRecorder persists stage history rows.
type StageRecorder interface {
	RecordStageChange(ctx context.Context, payload StageChangedPayload) error
}

// NewStageChangedTask builds a stage-change task. The task id makes
// re-enqueues of the same move idempotent.
func NewStageChangedTask(payload StageChangedPayload) (*asynq.Task, error) {
	if payload.OpportunityID == "" || payload.ToStage == "" {
		return nil, fmt.Errorf("jobs: stage change needs opportunity and target stage")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	taskID := fmt.Sprintf("%s:%s:%d", payload.OpportunityID, payload.ToStage, payload.ChangedAt.UnixNano())
	return asynq.NewTask(TaskCRMStageChanged, body,
		asynq.Queue(QueueCritical),
		asynq.TaskID(taskID),
		asynq.MaxRetry(10),
	), nil
}

// NewStageChangedHandler returns the worker handler writing history rows
// through recorder.
func NewStageChangedHandler(recorder StageRecorder, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskCRMStageChanged)
		var payload StageChangedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Warn("stage change payload", slog.Any("error", err))
			return tracker.End(fmt.Errorf("jobs: decode stage change: %v: %w", err, asynq.SkipRetry))
		}
		err := recorder.RecordStageChange(ctx, payload)
		if err != nil {
			logger.Error("record stage change",
				slog.String("opportunity", payload.OpportunityID),
				slog.Any("error", err))
		}
		return tracker.End(err)
	}
}
