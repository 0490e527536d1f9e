// Package audittest provides an in-memory audit.Recorder for tests.
package audittest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
)

// Recorder keeps every recorded event in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

// Record implements audit.Recorder.
func (r *Recorder) Record(_ context.Context, ev audit.Event) audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := audit.Entry{
		ID:        int64(len(r.entries) + 1),
		EventID:   uuid.New(),
		Type:      ev.Type,
		Source:    ev.Source,
		UserID:    ev.ActorID,
		Message:   ev.Message,
		CreatedAt: time.Now().UTC(),
	}
	if ev.SubjectID != "" {
		subject := ev.SubjectID
		entry.UpdatedUserID = &subject
	}
	r.entries = append(r.entries, entry)
	return entry
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports how many entries were recorded.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
