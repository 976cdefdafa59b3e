package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-crm/jobs"
)

// QueueInspector is the subset of asynq.Inspector used by the CLI.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunAllArchivedTasks(queue string) (int, error)
	Close() error
}

// JobsCLI wraps manual management helpers for the stage history queue.
type JobsCLI struct {
	inspector QueueInspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) (*JobsCLI, error) {
	return &JobsCLI{inspector: asynq.NewInspector(redisOpts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil || c.inspector == nil {
		return nil
	}
	return c.inspector.Close()
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueues reports the state of every queue the worker consumes. Queues
// Redis has never seen report zeros.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	names, err := c.inspector.Queues()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}
	out := make([]QueueStats, 0, 2)
	for _, queue := range []string{jobs.QueueCritical, jobs.QueueDefault} {
		stats := QueueStats{Queue: queue}
		if known[queue] {
			info, err := c.inspector.GetQueueInfo(queue)
			if err != nil {
				return nil, err
			}
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

// ListDeadStageChanges returns archived stage history tasks, the ones that
// exhausted their retries.
func (c *JobsCLI) ListDeadStageChanges(ctx context.Context, size int) ([]jobs.StageChangedPayload, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	infos, err := c.inspector.ListArchivedTasks(jobs.QueueCritical, asynq.PageSize(size), asynq.Page(1))
	if err != nil {
		return nil, err
	}
	out := make([]jobs.StageChangedPayload, 0, len(infos))
	for _, info := range infos {
		if info.Type != jobs.TaskCRMStageChanged {
			continue
		}
		var payload jobs.StageChangedPayload
		if err := json.Unmarshal(info.Payload, &payload); err != nil {
			continue
		}
		out = append(out, payload)
	}
	return out, nil
}

// ReplayDead moves archived tasks of the critical queue back to pending.
func (c *JobsCLI) ReplayDead(ctx context.Context) (int, error) {
	if c == nil || c.inspector == nil {
		return 0, errors.New("jobs cli: inspector not configured")
	}
	return c.inspector.RunAllArchivedTasks(jobs.QueueCritical)
}

// Run executes a jobs subcommand and returns the process exit code.
func (c *JobsCLI) Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: odyssey-crm jobs <stats|dead|replay>")
		return 2
	}
	switch args[0] {
	case "stats":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		_ = tw.Flush()
	case "dead":
		dead, err := c.ListDeadStageChanges(ctx, 50)
		if err != nil {
			fmt.Fprintf(stderr, "jobs dead: %v\n", err)
			return 1
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(dead); err != nil {
			fmt.Fprintf(stderr, "jobs dead: %v\n", err)
			return 1
		}
	case "replay":
		n, err := c.ReplayDead(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "jobs replay: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "requeued %d task(s)\n", n)
	default:
		fmt.Fprintf(stderr, "jobs: unknown command %q\n", args[0])
		return 2
	}
	return 0
}
