package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// Inspector is the subset of *asynq.Inspector the CLI uses.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq queues.
type JobsCLI struct {
	inspector Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	return &JobsCLI{inspector: asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})}, nil
}

// NewJobsCLIWithInspector wires a custom inspector.
func NewJobsCLIWithInspector(inspector Inspector) *JobsCLI {
	return &JobsCLI{inspector: inspector}
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
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// InspectQueue reports the queue metrics for queue.
func (c *JobsCLI) InspectQueue(ctx context.Context, queue string) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(queue)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: queue}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
		stats.Processed = info.Processed
		stats.Failed = info.Failed
	}
	return stats, nil
}

// ListTasks returns task infos of queue in the given state.
func (c *JobsCLI) ListTasks(ctx context.Context, queue, state string, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	opts := []asynq.ListOption{asynq.PageSize(size), asynq.Page(1)}
	switch state {
	case "pending":
		return c.inspector.ListPendingTasks(queue, opts...)
	case "retry":
		return c.inspector.ListRetryTasks(queue, opts...)
	case "archived":
		return c.inspector.ListArchivedTasks(queue, opts...)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported state %q", state)
	}
}

// Requeue moves an archived or retrying task back to pending.
func (c *JobsCLI) Requeue(ctx context.Context, queue, id string) error {
	if c == nil || c.inspector == nil {
		return errors.New("jobs cli: inspector not configured")
	}
	return c.inspector.RunTask(queue, id)
}
