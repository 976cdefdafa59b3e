package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-crm/internal/jobs"
)

type purgerStub struct {
	retention time.Duration
	removed   int64
	err       error
}

func (p *purgerStub) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	p.retention = olderThan
	return p.removed, p.err
}

func TestIdempotencyCleanupHandler(t *testing.T) {
	purger := &purgerStub{removed: 7}
	handler := NewIdempotencyCleanupHandler(purger, jobmetrics.NewMetrics(prometheus.NewRegistry()), nil)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, 48*time.Hour, purger.retention)

	purger.err = errors.New("db down")
	assert.ErrorIs(t, handler(context.Background(), task), purger.err)

	err = handler(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{"retention":0}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewIdempotencyCleanupTask(0)
	assert.Error(t, err)
}
