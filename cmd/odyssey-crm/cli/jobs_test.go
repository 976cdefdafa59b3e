package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-crm/jobs"
)

type stubInspector struct {
	queues   []string
	infos    map[string]*asynq.QueueInfo
	archived []*asynq.TaskInfo
	replayed int
	err      error
}

func (s *stubInspector) Queues() ([]string, error) { return s.queues, s.err }

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.infos[queue], nil
}

func (s *stubInspector) ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.archived, s.err
}

func (s *stubInspector) RunAllArchivedTasks(queue string) (int, error) {
	return s.replayed, s.err
}

func (s *stubInspector) Close() error { return nil }

func TestInspectQueuesReportsUnknownQueuesAsEmpty(t *testing.T) {
	c := &JobsCLI{inspector: &stubInspector{
		queues: []string{jobs.QueueCritical},
		infos: map[string]*asynq.QueueInfo{
			jobs.QueueCritical: {Queue: jobs.QueueCritical, Pending: 3, Retry: 1, Archived: 2},
		},
	}}

	stats, err := c.InspectQueues(context.Background())
	require.NoError(t, err)
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueueCritical, Pending: 3, Retry: 1, Archived: 2},
		{Queue: jobs.QueueDefault},
	}, stats)
}

func TestListDeadStageChangesDecodesPayloads(t *testing.T) {
	payload := jobs.StageChangedPayload{
		OpportunityID: "opp-1",
		TenantID:      "tenant-1",
		FromStage:     "lead",
		ToStage:       "proposal",
		ChangedBy:     "user-1",
		ChangedAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	c := &JobsCLI{inspector: &stubInspector{archived: []*asynq.TaskInfo{
		{Type: jobs.TaskCRMStageChanged, Payload: raw},
		{Type: "other:task", Payload: []byte(`{}`)},
		{Type: jobs.TaskCRMStageChanged, Payload: []byte(`not json`)},
	}}}

	dead, err := c.ListDeadStageChanges(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []jobs.StageChangedPayload{payload}, dead)
}

func TestRunCommands(t *testing.T) {
	c := &JobsCLI{inspector: &stubInspector{replayed: 4}}

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	require.Zero(t, c.Run(context.Background(), []string{"replay"}, stdout, stderr))
	require.Equal(t, "requeued 4 task(s)\n", stdout.String())
	require.Empty(t, stderr.String())

	stdout.Reset()
	require.Zero(t, c.Run(context.Background(), []string{"stats"}, stdout, stderr))
	require.Contains(t, stdout.String(), "QUEUE")
	require.Contains(t, stdout.String(), jobs.QueueCritical)

	require.Equal(t, 2, c.Run(context.Background(), []string{"bogus"}, stdout, stderr))
	require.Contains(t, stderr.String(), `unknown command "bogus"`)
	require.Equal(t, 2, c.Run(context.Background(), nil, stdout, stderr))
}

func TestRunReportsInspectorFailure(t *testing.T) {
	c := &JobsCLI{inspector: &stubInspector{err: errors.New("redis down")}}
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, c.Run(context.Background(), []string{"stats"}, new(bytes.Buffer), stderr))
	require.Contains(t, stderr.String(), "redis down")
}

func TestNilCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.InspectQueues(context.Background())
	require.Error(t, err)
	require.NoError(t, c.Close())
}
