package roles

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/permissions"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type roleRow struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	UserCount   int       `db:"user_count"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type linkRow struct {
	RoleID    int64     `db:"role_id"`
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Source    string    `db:"source"`
	Actions   []string  `db:"actions"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const selectRolesSQL = `
SELECT r.id, r.name, r.description, r.created_at, r.updated_at,
       (SELECT COUNT(*) FROM users u WHERE u.role_id = r.id) AS user_count
FROM roles r`

const selectLinksSQL = `
SELECT rp.role_id, p.id, p.name, p.source, p.actions, p.created_at, p.updated_at
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = ANY($1)
ORDER BY p.source, p.name, p.id`

// ListRoles returns all roles with their permissions.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	return loadRoles(ctx, r.pool, selectRolesSQL+` ORDER BY r.name, r.id`)
}

// GetRole returns one role with its permissions.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return loadRole(ctx, r.pool, id)
}

// CreateRole inserts a role and its permission links in one transaction.
func (r *Repository) CreateRole(ctx context.Context, in Input) (Role, error) {
	var role Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := permissions.CheckExist(ctx, tx, in.PermissionIDs); err != nil {
			return err
		}
		var id int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id`,
			in.Name, in.Description).Scan(&id); err != nil {
			return db.Classify(err)
		}
		if err := insertLinks(ctx, tx, id, in.PermissionIDs); err != nil {
			return err
		}
		var err error
		role, err = loadRole(ctx, tx, id)
		return err
	})
	return role, err
}

// UpdateRole updates a role and replaces its full permission link set. The
// role row is locked for the duration of the transaction.
func (r *Repository) UpdateRole(ctx context.Context, id int64, in Input) (Role, error) {
	var role Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockRole(ctx, tx, id); err != nil {
			return err
		}
		if err := permissions.CheckExist(ctx, tx, in.PermissionIDs); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`,
			id, in.Name, in.Description); err != nil {
			return db.Classify(err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM role_permissions WHERE role_id = $1 AND NOT (permission_id = ANY(COALESCE($2::BIGINT[], '{}')))`,
			id, in.PermissionIDs); err != nil {
			return db.Classify(err)
		}
		if err := insertLinks(ctx, tx, id, in.PermissionIDs); err != nil {
			return err
		}
		var err error
		role, err = loadRole(ctx, tx, id)
		return err
	})
	return role, err
}

// DeleteRole removes a role unless a user still holds it. Links cascade.
func (r *Repository) DeleteRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockRole(ctx, tx, id); err != nil {
			return err
		}
		var err error
		role, err = loadRole(ctx, tx, id)
		if err != nil {
			return err
		}
		if role.UserCount > 0 {
			return fmt.Errorf("%w: role in use by %d user(s)", shared.ErrConflict, role.UserCount)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
			return db.Classify(err)
		}
		return nil
	})
	return role, err
}

func lockRole(ctx context.Context, tx pgx.Tx, id int64) error {
	var locked int64
	if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		return db.Classify(err)
	}
	return nil
}

func insertLinks(ctx context.Context, tx pgx.Tx, roleID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, unnest($2::BIGINT[])
ON CONFLICT DO NOTHING`, roleID, ids)
	return db.Classify(err)
}

func loadRole(ctx context.Context, q pgxscan.Querier, id int64) (Role, error) {
	roles, err := loadRoles(ctx, q, selectRolesSQL+` WHERE r.id = $1`, id)
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	return roles[0], nil
}

func loadRoles(ctx context.Context, q pgxscan.Querier, query string, args ...any) ([]Role, error) {
	var rows []roleRow
	if err := pgxscan.Select(ctx, q, &rows, query, args...); err != nil {
		return nil, db.Classify(err)
	}
	out := make([]Role, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]int64, 0, len(rows))
	index := make(map[int64]int, len(rows))
	for i, row := range rows {
		ids = append(ids, row.ID)
		index[row.ID] = i
		out = append(out, Role{
			ID:          row.ID,
			Name:        row.Name,
			Description: row.Description,
			UserCount:   row.UserCount,
			Permissions: []permissions.Permission{},
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	var links []linkRow
	if err := pgxscan.Select(ctx, q, &links, selectLinksSQL, ids); err != nil {
		return nil, db.Classify(err)
	}
	for _, l := range links {
		p := permissions.Permission{
			ID:        l.ID,
			Name:      l.Name,
			Source:    rbac.Source(l.Source),
			CreatedAt: l.CreatedAt,
			UpdatedAt: l.UpdatedAt,
		}
		for _, a := range l.Actions {
			p.Actions = append(p.Actions, rbac.Action(a))
		}
		i := index[l.RoleID]
		out[i].Permissions = append(out[i].Permissions, p)
	}
	return out, nil
}
