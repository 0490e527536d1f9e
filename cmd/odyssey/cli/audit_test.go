package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/jobs"
)

type stubInspector struct {
	info     *asynq.QueueInfo
	retry    []*asynq.TaskInfo
	ran      []string
	runErr   error
	lastList string
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, nil
}

func (s *stubInspector) ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	s.lastList = "pending"
	return nil, nil
}

func (s *stubInspector) ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	s.lastList = "retry:" + queue
	return s.retry, nil
}

func (s *stubInspector) ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	s.lastList = "archived"
	return nil, nil
}

func (s *stubInspector) RunTask(queue, id string) error {
	s.ran = append(s.ran, queue+"/"+id)
	return s.runErr
}

func (s *stubInspector) Close() error { return nil }

func newAuditCLI(insp *stubInspector) (*AuditCLI, *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	return NewAuditCLI(NewJobsCLIWithInspector(insp), stdout, stderr), stdout, stderr
}

func TestAuditStatsJSON(t *testing.T) {
	cli, stdout, stderr := newAuditCLI(&stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueAudit, Pending: 2, Retry: 1, Archived: 3}})

	require.Zero(t, cli.Run(context.Background(), []string{"stats", "-json"}))
	require.Empty(t, stderr.String())

	var stats QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, QueueStats{Queue: jobs.QueueAudit, Pending: 2, Retry: 1, Archived: 3}, stats)
}

func TestAuditListDecodesEntries(t *testing.T) {
	entry := audit.Entry{EventID: uuid.New(), Type: audit.TypeUpdate, Source: rbac.SourceRoles, UserID: "u1", Message: "Edited role"}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)
	insp := &stubInspector{retry: []*asynq.TaskInfo{
		{ID: entry.EventID.String(), State: asynq.TaskStateRetry, Retried: 2, MaxRetry: 10, Payload: payload, LastErr: "connection refused"},
		{ID: "broken", State: asynq.TaskStateRetry, Payload: []byte("{")},
	}}
	cli, stdout, stderr := newAuditCLI(insp)

	require.Zero(t, cli.Run(context.Background(), []string{"list", "-json"}))
	require.Equal(t, "retry:"+jobs.QueueAudit, insp.lastList)
	require.Contains(t, stderr.String(), "broken")

	var entries []DeferredEntry
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, entry.EventID, entries[0].Entry.EventID)
	require.Equal(t, "retry", entries[0].State)
}

func TestAuditListRejectsUnknownState(t *testing.T) {
	cli, _, stderr := newAuditCLI(&stubInspector{})
	require.Equal(t, 1, cli.Run(context.Background(), []string{"list", "-state", "done"}))
	require.Contains(t, stderr.String(), "unsupported state")
}

func TestAuditRequeue(t *testing.T) {
	insp := &stubInspector{}
	cli, stdout, _ := newAuditCLI(insp)
	require.Zero(t, cli.Run(context.Background(), []string{"requeue", "abc"}))
	require.Equal(t, []string{jobs.QueueAudit + "/abc"}, insp.ran)
	require.Contains(t, stdout.String(), "requeued abc")

	insp.runErr = errors.New("task not found")
	require.Equal(t, 1, cli.Run(context.Background(), []string{"requeue", "abc"}))
}

func TestAuditUsage(t *testing.T) {
	cli, _, stderr := newAuditCLI(&stubInspector{})
	require.Equal(t, 2, cli.Run(context.Background(), nil))
	require.Contains(t, stderr.String(), "usage")
}
