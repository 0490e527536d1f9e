package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-admin/internal/jobs"
)

// AuditRecordJob inserts deferred audit entries.
type AuditRecordJob struct {
	writer  audit.EntryWriter
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewAuditRecordJob constructs the job handler.
func NewAuditRecordJob(writer audit.EntryWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRecordJob{writer: writer, logger: logger, metrics: metrics}
}

// Handle processes TaskAuditRecord. The insert is idempotent on event id, so
// redelivery after a partial failure never duplicates a row.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("audit_record")

	var entry audit.Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		j.logger.Error("audit record payload", slog.Any("error", err))
		return tracker.End(fmt.Errorf("decode payload: %w", asynq.SkipRetry))
	}
	if entry.EventID == uuid.Nil || !entry.Type.Valid() || !entry.Source.Valid() {
		j.logger.Error("audit record invalid entry", slog.String("event_id", entry.EventID.String()))
		return tracker.End(fmt.Errorf("invalid entry: %w", asynq.SkipRetry))
	}

	stored, err := j.writer.Insert(ctx, entry)
	if err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		j.logger.Warn("audit record insert", slog.Any("error", err),
			slog.String("event_id", entry.EventID.String()), slog.Int("retry", retried))
		return tracker.End(err)
	}
	j.logger.Info("audit entry redelivered", slog.String("event_id", entry.EventID.String()), slog.Int64("id", stored.ID))
	return tracker.End(nil)
}
