package roles

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/permissions"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Role represents a role for management.
type Role struct {
	ID          int64                    `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Permissions []permissions.Permission `json:"permissions"`
	UserCount   int                      `json:"user_count"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// Input is the request body for create and edit. PermissionIDs is the full
// link set the role ends up with.
type Input struct {
	Name          string  `json:"name" validate:"required,max=100"`
	Description   string  `json:"description" validate:"max=500"`
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

func (in Input) normalize() (Input, error) {
	in.Name = shared.NormalizeName(in.Name)
	if in.Name == "" {
		return Input{}, fmt.Errorf("%w: name required", shared.ErrValidation)
	}
	in.Description = shared.NormalizeName(in.Description)
	seen := make(map[int64]struct{}, len(in.PermissionIDs))
	ids := make([]int64, 0, len(in.PermissionIDs))
	for _, id := range in.PermissionIDs {
		if id <= 0 {
			return Input{}, fmt.Errorf("%w: invalid permission id %d", shared.ErrValidation, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	in.PermissionIDs = ids
	return in, nil
}
