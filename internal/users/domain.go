package users

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// User represents a user account for management.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Image     string    `json:"image,omitempty" db:"image"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	RoleID    *int64    `json:"role_id,omitempty" db:"role_id"`
	RoleName  *string   `json:"role_name,omitempty" db:"role_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ListFilters narrows ListUsers.
type ListFilters struct {
	Query   string
	RoleID  *int64
	Active  *bool
	Page    int
	PerPage int
}

// ListResult is one page of users.
type ListResult struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

// AssignRoleInput is the body of PUT /users/{id}/role.
type AssignRoleInput struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

// StatusInput is the body of PUT /users/{id}/status.
type StatusInput struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// EditInput is the body of PATCH /users/{id}.
type EditInput struct {
	Name  string `json:"name" validate:"max=120"`
	Email string `json:"email" validate:"required,email,max=254"`
}

func (in EditInput) normalize() (EditInput, error) {
	in.Name = shared.NormalizeName(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return EditInput{}, fmt.Errorf("%w: invalid email", shared.ErrValidation)
	}
	return in, nil
}

// AccountStatus answers GET /me/status.
type AccountStatus struct {
	IsActive bool `json:"is_active"`
}

// PermissionCheck answers GET /me/check.
type PermissionCheck struct {
	Source        rbac.Source `json:"source"`
	Action        rbac.Action `json:"action"`
	HasPermission bool        `json:"has_permission"`
}

// Profile answers GET /me.
type Profile struct {
	User        User         `json:"user"`
	Permissions []rbac.Grant `json:"permissions"`
}
