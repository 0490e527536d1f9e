package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Repository menyediakan akses audit_logs di Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository audit baru.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertEntrySQL = `
INSERT INTO audit_logs (event_id, type, source, user_id, updated_user_id, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_id) DO NOTHING
RETURNING id`

// Insert writes e. A replayed EventID keeps the original row.
func (r *Repository) Insert(ctx context.Context, e Entry) (Entry, error) {
	err := r.pool.QueryRow(ctx, insertEntrySQL,
		e.EventID, e.Type, e.Source, e.UserID, e.UpdatedUserID, e.Message, e.CreatedAt,
	).Scan(&e.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.pool.QueryRow(ctx, `SELECT id FROM audit_logs WHERE event_id = $1`, e.EventID).Scan(&e.ID)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("audit: insert: %w", db.Classify(err))
	}
	return e, nil
}

const listEntriesSQL = `
SELECT l.id, l.event_id, l.type, l.source, l.user_id, l.updated_user_id, l.message, l.created_at,
       u.name AS actor_name, u.email AS actor_email
FROM audit_logs l
LEFT JOIN users u ON u.id::text = l.user_id
WHERE ($1::timestamptz IS NULL OR l.created_at >= $1)
  AND ($2::timestamptz IS NULL OR l.created_at < $2)
  AND ($3::text IS NULL OR l.user_id = $3)
  AND ($4::text IS NULL OR l.type = $4)
  AND ($5::text IS NULL OR l.source = $5)
ORDER BY l.created_at DESC, l.id DESC`

// List mengambil satu halaman log ditambah satu baris untuk deteksi halaman berikutnya.
func (r *Repository) List(ctx context.Context, f Filters, limit, offset int) ([]Row, error) {
	var rows []Row
	query := listEntriesSQL + ` LIMIT $6 OFFSET $7`
	args := append(filterArgs(f), limit, offset)
	if err := pgxscan.Select(ctx, r.pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("audit: list: %w", db.Classify(err))
	}
	return rows, nil
}

// ListAll mengambil log yang cocok tanpa paging, paling banyak limit baris.
func (r *Repository) ListAll(ctx context.Context, f Filters, limit int) ([]Row, error) {
	var rows []Row
	query := listEntriesSQL + ` LIMIT $6`
	args := append(filterArgs(f), limit)
	if err := pgxscan.Select(ctx, r.pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("audit: list all: %w", db.Classify(err))
	}
	return rows, nil
}

// Delete removes one entry.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("audit: delete: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func filterArgs(f Filters) []any {
	return []any{
		optionalTime(f),
		optionalTo(f),
		optionalText(f.Actor),
		optionalText(string(f.Type)),
		optionalText(string(f.Source)),
	}
}

func optionalTime(f Filters) any {
	if f.From.IsZero() {
		return nil
	}
	return f.From
}

func optionalTo(f Filters) any {
	if f.To.IsZero() {
		return nil
	}
	return f.To
}

func optionalText(v string) any {
	if v == "" {
		return nil
	}
	return v
}
