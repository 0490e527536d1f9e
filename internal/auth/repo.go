package auth

import (
	"context"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByProviderSubject(ctx context.Context, subject string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, ident ProviderIdentity) (User, error)
	LinkProviderSubject(ctx context.Context, userID, subject string) error
	FindUser(ctx context.Context, id string) (User, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id::text AS id, name, email, image, provider_subject, is_active, role_id, created_at, updated_at`

// FindByProviderSubject fetches the user linked to an IdP subject.
func (r *PGRepository) FindByProviderSubject(ctx context.Context, subject string) (User, error) {
	var u User
	err := pgxscan.Get(ctx, r.pool, &u, `SELECT `+userColumns+` FROM users WHERE provider_subject = $1`, subject)
	if err != nil {
		return User{}, db.Classify(err)
	}
	return u, nil
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := pgxscan.Get(ctx, r.pool, &u, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	if err != nil {
		return User{}, db.Classify(err)
	}
	return u, nil
}

// FindUser fetches a user by id. Malformed ids read as missing.
func (r *PGRepository) FindUser(ctx context.Context, id string) (User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return User{}, shared.ErrNotFound
	}
	var u User
	if err := pgxscan.Get(ctx, r.pool, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, uid); err != nil {
		return User{}, db.Classify(err)
	}
	return u, nil
}

// CreateUser inserts an active user without a role.
func (r *PGRepository) CreateUser(ctx context.Context, ident ProviderIdentity) (User, error) {
	var subject *string
	if ident.Subject != "" {
		subject = &ident.Subject
	}
	var u User
	err := pgxscan.Get(ctx, r.pool, &u, `
INSERT INTO users (id, name, email, image, provider_subject, is_active)
VALUES ($1, $2, $3, $4, $5, TRUE)
RETURNING `+userColumns,
		uuid.New(), ident.Name, ident.Email, ident.Picture, subject)
	if err != nil {
		return User{}, db.Classify(err)
	}
	return u, nil
}

// LinkProviderSubject records the IdP subject on an existing account.
func (r *PGRepository) LinkProviderSubject(ctx context.Context, userID, subject string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return shared.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET provider_subject = $2, updated_at = NOW() WHERE id = $1`, uid, subject)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
