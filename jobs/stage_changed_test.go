package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-crm/internal/jobs"
)

type recorderStub struct {
	got []StageChangedPayload
	err error
}

func (r *recorderStub) RecordStageChange(ctx context.Context, p StageChangedPayload) error {
	r.got = append(r.got, p)
	return r.err
}

func TestNewStageChangedTask(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	task, err := NewStageChangedTask(StageChangedPayload{
		OpportunityID: "opp-1",
		TenantID:      "t1",
		FromStage:     "proposal",
		ToStage:       "closing",
		ChangedAt:     at,
	})
	require.NoError(t, err)
	assert.Equal(t, TaskCRMStageChanged, task.Type())

	var decoded StageChangedPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, "closing", decoded.ToStage)
	assert.True(t, at.Equal(decoded.ChangedAt))

	_, err = NewStageChangedTask(StageChangedPayload{OpportunityID: "opp-1"})
	assert.Error(t, err)
}

func TestStageChangedHandlerRecords(t *testing.T) {
	rec := &recorderStub{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	handler := NewStageChangedHandler(rec, metrics, nil)

	task, err := NewStageChangedTask(StageChangedPayload{OpportunityID: "opp-1", ToStage: "closing"})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Len(t, rec.got, 1)
	assert.Equal(t, "opp-1", rec.got[0].OpportunityID)

	rec.err = errors.New("db down")
	assert.EqualError(t, handler(context.Background(), task), "db down")
}

func TestStageChangedHandlerSkipsBadPayload(t *testing.T) {
	handler := NewStageChangedHandler(&recorderStub{}, nil, nil)
	err := handler(context.Background(), asynq.NewTask(TaskCRMStageChanged, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
