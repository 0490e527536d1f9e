package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

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

type permissionRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Source    string    `db:"source"`
	Actions   []string  `db:"actions"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r permissionRow) toDomain() Permission {
	p := Permission{
		ID:        r.ID,
		Name:      r.Name,
		Source:    rbac.Source(r.Source),
		Actions:   make([]rbac.Action, 0, len(r.Actions)),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, a := range r.Actions {
		p.Actions = append(p.Actions, rbac.Action(a))
	}
	return p
}

const permissionColumns = `id, name, source, actions, created_at, updated_at`

// List returns every permission ordered by source then name.
func (r *Repository) List(ctx context.Context) ([]Permission, error) {
	var rows []permissionRow
	if err := pgxscan.Select(ctx, r.pool, &rows,
		`SELECT `+permissionColumns+` FROM permissions ORDER BY source, name, id`); err != nil {
		return nil, db.Classify(err)
	}
	out := make([]Permission, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Get returns one permission.
func (r *Repository) Get(ctx context.Context, id int64) (Permission, error) {
	var row permissionRow
	if err := pgxscan.Get(ctx, r.pool, &row,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id); err != nil {
		return Permission{}, db.Classify(err)
	}
	return row.toDomain(), nil
}

// Create inserts a permission.
func (r *Repository) Create(ctx context.Context, n Normalized) (Permission, error) {
	var row permissionRow
	err := pgxscan.Get(ctx, r.pool, &row, `
INSERT INTO permissions (name, source, actions)
VALUES ($1, $2, $3)
RETURNING `+permissionColumns, n.Name, string(n.Source), actionStrings(n.Actions))
	if err != nil {
		return Permission{}, db.Classify(err)
	}
	return row.toDomain(), nil
}

// Update replaces name, source and actions. Roles linked to the permission
// see the new grant on their next resolution.
func (r *Repository) Update(ctx context.Context, id int64, n Normalized) (Permission, error) {
	var row permissionRow
	err := pgxscan.Get(ctx, r.pool, &row, `
UPDATE permissions SET name = $2, source = $3, actions = $4, updated_at = NOW()
WHERE id = $1
RETURNING `+permissionColumns, id, n.Name, string(n.Source), actionStrings(n.Actions))
	if err != nil {
		return Permission{}, db.Classify(err)
	}
	return row.toDomain(), nil
}

// Delete removes a permission; role links cascade.
func (r *Repository) Delete(ctx context.Context, id int64) (Permission, error) {
	var row permissionRow
	err := pgxscan.Get(ctx, r.pool, &row,
		`DELETE FROM permissions WHERE id = $1 RETURNING `+permissionColumns, id)
	if err != nil {
		return Permission{}, db.Classify(err)
	}
	return row.toDomain(), nil
}

// ExistingIDs returns which of ids exist.
func ExistingIDs(ctx context.Context, q pgxscan.Querier, ids []int64) (map[int64]struct{}, error) {
	found := make(map[int64]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var rows []int64
	if err := pgxscan.Select(ctx, q, &rows, `SELECT id FROM permissions WHERE id = ANY($1)`, ids); err != nil {
		return nil, db.Classify(err)
	}
	for _, id := range rows {
		found[id] = struct{}{}
	}
	return found, nil
}

// CheckExist fails with shared.ErrNotFound naming the first unknown id.
func CheckExist(ctx context.Context, q pgxscan.Querier, ids []int64) error {
	found, err := ExistingIDs(ctx, q, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return fmt.Errorf("%w: unknown permission id %d", shared.ErrNotFound, id)
		}
	}
	return nil
}

func actionStrings(actions []rbac.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
