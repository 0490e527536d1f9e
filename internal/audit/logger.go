package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Write outcomes reported to WriteObserver.
const (
	OutcomeWritten  = "written"
	OutcomeDeferred = "deferred"
	OutcomeLost     = "lost"
)

const writeTimeout = 3 * time.Second

// Recorder is the side effect every guarded mutation invokes after it
// commits.
type Recorder interface {
	Record(ctx context.Context, ev Event) Entry
}

// EntryWriter inserts an entry. Inserting the same EventID twice must be a
// no-op.
type EntryWriter interface {
	Insert(ctx context.Context, e Entry) (Entry, error)
}

// Deferrer queues an entry for redelivery when the direct insert fails.
type Deferrer interface {
	Defer(ctx context.Context, e Entry) error
}

// WriteObserver counts write outcomes.
type WriteObserver interface {
	ObserveAuditWrite(outcome string)
}

// Logger writes audit entries on the request path. It never fails the
// caller: an insert error hands the entry to the Deferrer, and if that also
// fails the entry is logged in full so it can be reconciled by hand.
type Logger struct {
	writer   EntryWriter
	deferrer Deferrer
	observer WriteObserver
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
}

// NewLogger constructs a Logger. deferrer and observer may be nil.
func NewLogger(writer EntryWriter, deferrer Deferrer, observer WriteObserver, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		writer:   writer,
		deferrer: deferrer,
		observer: observer,
		logger:   logger,
		now:      time.Now,
		timeout:  writeTimeout,
	}
}

// Record persists ev and returns the entry as built, with its ID set when
// the direct insert succeeded.
func (l *Logger) Record(ctx context.Context, ev Event) Entry {
	entry := Entry{
		EventID:   uuid.New(),
		Type:      ev.Type,
		Source:    ev.Source,
		UserID:    ev.ActorID,
		Message:   ev.Message,
		CreatedAt: l.now().UTC(),
	}
	if ev.SubjectID != "" {
		subject := ev.SubjectID
		entry.UpdatedUserID = &subject
	}
	if !entry.Type.Valid() || !entry.Source.Valid() {
		l.lost(ctx, entry, nil)
		return entry
	}

	// the mutation already committed; a cancelled request must not drop its entry
	stored, err := l.insert(ctx, entry)
	if err == nil {
		l.observe(OutcomeWritten)
		return stored
	}
	l.logger.ErrorContext(ctx, "audit insert failed", slog.Any("error", err), slog.String("event_id", entry.EventID.String()))

	if l.deferrer != nil {
		derr := l.deferEntry(ctx, entry)
		if derr == nil {
			l.observe(OutcomeDeferred)
			return entry
		}
		err = derr
	}
	l.lost(ctx, entry, err)
	return entry
}

func (l *Logger) insert(ctx context.Context, entry Entry) (Entry, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	return l.writer.Insert(wctx, entry)
}

// deferEntry gets its own deadline; a timed-out insert has spent the first.
func (l *Logger) deferEntry(ctx context.Context, entry Entry) error {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	return l.deferrer.Defer(dctx, entry)
}

func (l *Logger) lost(ctx context.Context, entry Entry, err error) {
	l.observe(OutcomeLost)
	subject := ""
	if entry.UpdatedUserID != nil {
		subject = *entry.UpdatedUserID
	}
	l.logger.ErrorContext(ctx, "audit entry lost",
		slog.Any("error", err),
		slog.String("event_id", entry.EventID.String()),
		slog.String("type", string(entry.Type)),
		slog.String("source", string(entry.Source)),
		slog.String("user_id", entry.UserID),
		slog.String("updated_user_id", subject),
		slog.String("message", entry.Message),
		slog.Time("created_at", entry.CreatedAt),
	)
}

func (l *Logger) observe(outcome string) {
	if l.observer != nil {
		l.observer.ObserveAuditWrite(outcome)
	}
}
