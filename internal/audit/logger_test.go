package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

type memWriter struct {
	mu      sync.Mutex
	entries map[string]Entry
	err     error
	nextID  int64
}

func newMemWriter() *memWriter {
	return &memWriter{entries: make(map[string]Entry)}
}

func (m *memWriter) Insert(ctx context.Context, e Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Entry{}, m.err
	}
	if existing, ok := m.entries[e.EventID.String()]; ok {
		return existing, nil
	}
	m.nextID++
	e.ID = m.nextID
	m.entries[e.EventID.String()] = e
	return e, nil
}

type stubDeferrer struct {
	deferred []Entry
	err      error
}

func (s *stubDeferrer) Defer(ctx context.Context, e Entry) error {
	if s.err != nil {
		return s.err
	}
	s.deferred = append(s.deferred, e)
	return nil
}

// blockingWriter never answers before its context expires.
type blockingWriter struct{}

func (blockingWriter) Insert(ctx context.Context, e Entry) (Entry, error) {
	<-ctx.Done()
	return Entry{}, ctx.Err()
}

// ctxDeferrer fails when handed an already expired context.
type ctxDeferrer struct {
	stubDeferrer
}

func (c *ctxDeferrer) Defer(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.stubDeferrer.Defer(ctx, e)
}

type countingObserver struct {
	counts map[string]int
}

func (c *countingObserver) ObserveAuditWrite(outcome string) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[outcome]++
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordWritesEntry(t *testing.T) {
	writer := newMemWriter()
	obs := &countingObserver{}
	logger := NewLogger(writer, nil, obs, quietLogger())
	logger.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	entry := logger.Record(context.Background(), Event{
		ActorID:   "actor",
		Type:      TypeUpdate,
		Source:    rbac.SourceUser,
		Message:   "Updated account status",
		SubjectID: "target",
	})

	if entry.ID != 1 {
		t.Fatalf("expected stored id 1, got %d", entry.ID)
	}
	if entry.UpdatedUserID == nil || *entry.UpdatedUserID != "target" {
		t.Fatalf("expected subject target, got %v", entry.UpdatedUserID)
	}
	if entry.UserID != "actor" || entry.Type != TypeUpdate || entry.Source != rbac.SourceUser {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !entry.CreatedAt.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected created_at %s", entry.CreatedAt)
	}
	if len(writer.entries) != 1 || obs.counts[OutcomeWritten] != 1 {
		t.Fatalf("expected one written entry, got %d (%v)", len(writer.entries), obs.counts)
	}
}

func TestRecordWithoutSubjectLeavesUpdatedUserEmpty(t *testing.T) {
	logger := NewLogger(newMemWriter(), nil, nil, quietLogger())
	entry := logger.Record(context.Background(), Event{ActorID: "a", Type: TypeWrite, Source: rbac.SourceRoles, Message: "Created role"})
	if entry.UpdatedUserID != nil {
		t.Fatalf("expected nil updated_user_id")
	}
}

func TestRecordDefersOnInsertFailure(t *testing.T) {
	writer := newMemWriter()
	writer.err = errors.New("connection refused")
	deferrer := &stubDeferrer{}
	obs := &countingObserver{}
	logger := NewLogger(writer, deferrer, obs, quietLogger())

	entry := logger.Record(context.Background(), Event{ActorID: "a", Type: TypeDelete, Source: rbac.SourceRoles, Message: "Deleted role"})

	if len(deferrer.deferred) != 1 || deferrer.deferred[0].EventID != entry.EventID {
		t.Fatalf("expected entry to be deferred, got %+v", deferrer.deferred)
	}
	if obs.counts[OutcomeDeferred] != 1 || obs.counts[OutcomeLost] != 0 {
		t.Fatalf("unexpected outcomes %v", obs.counts)
	}
}

func TestRecordDefersTimedOutInsert(t *testing.T) {
	deferrer := &ctxDeferrer{}
	obs := &countingObserver{}
	logger := NewLogger(blockingWriter{}, deferrer, obs, quietLogger())
	logger.timeout = 20 * time.Millisecond

	entry := logger.Record(context.Background(), Event{ActorID: "a", Type: TypeUpdate, Source: rbac.SourceUser, Message: "Deactivated user"})

	if len(deferrer.deferred) != 1 || deferrer.deferred[0].EventID != entry.EventID {
		t.Fatalf("expected timed-out insert to be deferred, got %+v", deferrer.deferred)
	}
	if obs.counts[OutcomeDeferred] != 1 || obs.counts[OutcomeLost] != 0 {
		t.Fatalf("unexpected outcomes %v", obs.counts)
	}
}

func TestRecordCountsLostWhenDeferralFails(t *testing.T) {
	writer := newMemWriter()
	writer.err = errors.New("connection refused")
	obs := &countingObserver{}
	logger := NewLogger(writer, &stubDeferrer{err: errors.New("redis down")}, obs, quietLogger())

	logger.Record(context.Background(), Event{ActorID: "a", Type: TypeWrite, Source: rbac.SourcePermissions, Message: "Created permission"})

	if obs.counts[OutcomeLost] != 1 {
		t.Fatalf("expected lost outcome, got %v", obs.counts)
	}
}

func TestRecordSurvivesCancelledRequest(t *testing.T) {
	writer := newMemWriter()
	logger := NewLogger(writer, nil, nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger.Record(ctx, Event{ActorID: "a", Type: TypeWrite, Source: rbac.SourceRoles, Message: "Created role"})
	if len(writer.entries) != 1 {
		t.Fatalf("expected entry written despite cancelled context")
	}
}

func TestRecordRejectsUnknownClassification(t *testing.T) {
	writer := newMemWriter()
	obs := &countingObserver{}
	logger := NewLogger(writer, nil, obs, quietLogger())

	logger.Record(context.Background(), Event{ActorID: "a", Type: "CREATE", Source: rbac.SourceRoles, Message: "x"})
	if len(writer.entries) != 0 || obs.counts[OutcomeLost] != 1 {
		t.Fatalf("expected invalid entry to be counted lost, got %v", obs.counts)
	}
}

func TestInsertIsIdempotentPerEvent(t *testing.T) {
	writer := newMemWriter()
	logger := NewLogger(writer, nil, nil, quietLogger())
	entry := logger.Record(context.Background(), Event{ActorID: "a", Type: TypeWrite, Source: rbac.SourceRoles, Message: "Created role"})

	again, err := writer.Insert(context.Background(), entry)
	if err != nil {
		t.Fatalf("replay insert: %v", err)
	}
	if again.ID != entry.ID || len(writer.entries) != 1 {
		t.Fatalf("expected replay to keep original row")
	}
}
