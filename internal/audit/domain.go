package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Type classifies the mutation an entry records.
type Type string

const (
	TypeWrite  Type = "WRITE"
	TypeUpdate Type = "UPDATE"
	TypeDelete Type = "DELETE"
)

// ParseType accepts only the exact wire value.
func ParseType(v string) (Type, error) {
	t := Type(v)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown audit type %q", shared.ErrValidation, v)
	}
	return t, nil
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeWrite, TypeUpdate, TypeDelete:
		return true
	}
	return false
}

// Event is what a mutation reports to the Recorder.
type Event struct {
	ActorID   string
	Type      Type
	Source    rbac.Source
	Message   string
	SubjectID string
}

// Entry is one immutable audit_logs row.
type Entry struct {
	ID            int64       `json:"id" db:"id"`
	EventID       uuid.UUID   `json:"event_id" db:"event_id"`
	Type          Type        `json:"type" db:"type"`
	Source        rbac.Source `json:"source" db:"source"`
	UserID        string      `json:"user_id" db:"user_id"`
	UpdatedUserID *string     `json:"updated_user_id,omitempty" db:"updated_user_id"`
	Message       string      `json:"message" db:"message"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// Row adalah entry beserta nama aktor untuk daftar log.
type Row struct {
	Entry
	ActorName  *string `json:"actor_name,omitempty" db:"actor_name"`
	ActorEmail *string `json:"actor_email,omitempty" db:"actor_email"`
}

// Filters menampung filter untuk daftar log.
type Filters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Type     Type
	Source   rbac.Source
	Page     int
	PageSize int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil daftar log dengan informasi paging.
type Result struct {
	Rows   []Row      `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
