package rbac

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Store is the read port the resolver depends on. Missing rows are reported
// as shared.ErrNotFound.
type Store interface {
	FindUser(ctx context.Context, id string) (Subject, error)
	FindRoleWithPermissions(ctx context.Context, roleID int64) (RoleWithPermissions, error)
}

// PGStore reads subjects and role grants from Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const findSubjectSQL = `SELECT id::text AS id, role_id, is_active FROM users WHERE id = $1`

// FindUser loads the subject row for id.
func (s *PGStore) FindUser(ctx context.Context, id string) (Subject, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Subject{}, shared.ErrNotFound
	}
	var subj Subject
	if err := pgxscan.Get(ctx, s.pool, &subj, findSubjectSQL, uid); err != nil {
		return Subject{}, db.Classify(err)
	}
	return subj, nil
}

const findRoleGrantsSQL = `
SELECT r.id AS role_id, r.name AS role_name, p.source, p.actions
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
WHERE r.id = $1
ORDER BY p.id`

type roleGrantRow struct {
	RoleID   int64    `db:"role_id"`
	RoleName string   `db:"role_name"`
	Source   *string  `db:"source"`
	Actions  []string `db:"actions"`
}

// FindRoleWithPermissions loads a role and every grant linked to it in one
// query.
func (s *PGStore) FindRoleWithPermissions(ctx context.Context, roleID int64) (RoleWithPermissions, error) {
	var rows []roleGrantRow
	if err := pgxscan.Select(ctx, s.pool, &rows, findRoleGrantsSQL, roleID); err != nil {
		return RoleWithPermissions{}, db.Classify(err)
	}
	if len(rows) == 0 {
		return RoleWithPermissions{}, fmt.Errorf("rbac: role %d: %w", roleID, shared.ErrNotFound)
	}
	role := RoleWithPermissions{ID: rows[0].RoleID, Name: rows[0].RoleName}
	for _, row := range rows {
		if row.Source == nil {
			continue
		}
		grant := Grant{Source: Source(*row.Source), Actions: make([]Action, 0, len(row.Actions))}
		for _, a := range row.Actions {
			grant.Actions = append(grant.Actions, Action(a))
		}
		role.Grants = append(role.Grants, grant)
	}
	return role, nil
}
