package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit entries whose direct insert failed.
	QueueAudit = "audit"
	// TaskAuditRecord redelivers one audit entry.
	TaskAuditRecord = "audit:record"
)

// NewAuditRecordTask builds a redelivery task for entry. The task id is the
// entry's event id so enqueueing the same entry twice is rejected by asynq.
func NewAuditRecordTask(entry audit.Entry, maxRetry int) (*asynq.Task, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode audit entry: %w", err)
	}
	return asynq.NewTask(TaskAuditRecord, body,
		asynq.Queue(QueueAudit),
		asynq.TaskID(entry.EventID.String()),
		asynq.MaxRetry(maxRetry),
	), nil
}
