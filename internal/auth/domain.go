package auth

import "time"

// User is the account row the sign-in flow reads and creates.
type User struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Email           string    `db:"email" json:"email"`
	Image           string    `db:"image" json:"image,omitempty"`
	ProviderSubject *string   `db:"provider_subject" json:"-"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	RoleID          *int64    `db:"role_id" json:"role_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ProviderIdentity is what the identity provider vouches for after a
// successful callback.
type ProviderIdentity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// SessionView is the UI hint returned by GET /auth/session.
type SessionView struct {
	State       string     `json:"state"`
	UserID      string     `json:"user_id,omitempty"`
	RoleID      *int64     `json:"role_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	IssuedAt    *time.Time `json:"issued_at,omitempty"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	CSRFToken   string     `json:"csrf_token"`
}
