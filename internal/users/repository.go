package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
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

const selectUserSQL = `
SELECT u.id::text AS id, u.email, u.name, u.image, u.is_active, u.role_id,
       r.name AS role_name, u.created_at, u.updated_at
FROM users u
LEFT JOIN roles r ON r.id = u.role_id`

const filterUsersSQL = `
WHERE ($1::text IS NULL OR u.name ILIKE '%' || $1 || '%' OR u.email ILIKE '%' || $1 || '%')
  AND ($2::bigint IS NULL OR u.role_id = $2)
  AND ($3::boolean IS NULL OR u.is_active = $3)`

// ListUsers returns one page of users and the total match count.
func (r *Repository) ListUsers(ctx context.Context, f ListFilters) ([]User, int, error) {
	var query *string
	if q := strings.TrimSpace(f.Query); q != "" {
		query = &q
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users u `+filterUsersSQL,
		query, f.RoleID, f.Active).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	page, perPage := shared.NormalizePage(f.Page, f.PerPage)
	var out []User
	if err := pgxscan.Select(ctx, r.pool, &out,
		selectUserSQL+filterUsersSQL+` ORDER BY u.created_at, u.id LIMIT $4 OFFSET $5`,
		query, f.RoleID, f.Active, perPage, shared.Offset(page, perPage)); err != nil {
		return nil, 0, db.Classify(err)
	}
	return out, total, nil
}

// GetUser returns one user.
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	uid, err := parseID(id)
	if err != nil {
		return User{}, err
	}
	return getUser(ctx, r.pool, uid)
}

// AssignRole sets the user's role. The role row is share-locked so a
// concurrent delete cannot slip in between.
func (r *Repository) AssignRole(ctx context.Context, id string, roleID int64) (User, error) {
	uid, err := parseID(id)
	if err != nil {
		return User{}, err
	}
	var user User
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var found int64
		if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR SHARE`, roleID).Scan(&found); err != nil {
			if err = db.Classify(err); errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("%w: unknown role id %d", shared.ErrNotFound, roleID)
			}
			return err
		}
		if err := execOne(ctx, tx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1`, uid, roleID); err != nil {
			return err
		}
		user, err = getUser(ctx, tx, uid)
		return err
	})
	return user, err
}

// SetActive flips the user's active flag.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) (User, error) {
	uid, err := parseID(id)
	if err != nil {
		return User{}, err
	}
	if err := execOne(ctx, r.pool, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, uid, active); err != nil {
		return User{}, err
	}
	return getUser(ctx, r.pool, uid)
}

// UpdateProfile changes name and email.
func (r *Repository) UpdateProfile(ctx context.Context, id string, in EditInput) (User, error) {
	uid, err := parseID(id)
	if err != nil {
		return User{}, err
	}
	if err := execOne(ctx, r.pool,
		`UPDATE users SET name = $2, email = $3, updated_at = NOW() WHERE id = $1`,
		uid, in.Name, in.Email); err != nil {
		return User{}, err
	}
	return getUser(ctx, r.pool, uid)
}

// DeleteUser removes a user and returns the deleted row.
func (r *Repository) DeleteUser(ctx context.Context, id string) (User, error) {
	uid, err := parseID(id)
	if err != nil {
		return User{}, err
	}
	var user User
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		user, err = getUser(ctx, tx, uid)
		if err != nil {
			return err
		}
		return execOne(ctx, tx, `DELETE FROM users WHERE id = $1`, uid)
	})
	return user, err
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// execOne runs a statement that must touch exactly one user row.
func execOne(ctx context.Context, e execer, sql string, args ...any) error {
	tag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func getUser(ctx context.Context, q pgxscan.Querier, id uuid.UUID) (User, error) {
	var u User
	if err := pgxscan.Get(ctx, q, &u, selectUserSQL+` WHERE u.id = $1`, id); err != nil {
		return User{}, db.Classify(err)
	}
	return u, nil
}

func parseID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("user %q: %w", id, shared.ErrNotFound)
	}
	return uid, nil
}
