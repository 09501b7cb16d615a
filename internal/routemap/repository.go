package routemap

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqline/souqline/internal/platform/httpx"
	"github.com/souqline/souqline/internal/shared"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for route mappings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const mappingSelect = `
	SELECT rm.id, rm.path, rm.method, rm.permission_id, p.name, rm.created_at, rm.updated_at
	FROM route_mappings rm
	LEFT JOIN permissions p ON p.id = rm.permission_id`

// FindMapping resolves a mapping by method and path pattern.
func (r *Repository) FindMapping(ctx context.Context, method, path string) (*Mapping, error) {
	row := r.pool.QueryRow(ctx, mappingSelect+` WHERE rm.method = $1 AND rm.path = $2`, method, path)
	m, err := scanMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// List returns all mappings, optionally filtered by permission name.
func (r *Repository) List(ctx context.Context, permissionName string) ([]Mapping, error) {
	query := mappingSelect + ` WHERE ($1 = '' OR p.name = $1) ORDER BY rm.path, rm.method`
	rows, err := r.pool.Query(ctx, query, permissionName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var mappings []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

// Create inserts a mapping. Duplicate (path, method) pairs map to ErrDuplicate.
func (r *Repository) Create(ctx context.Context, m Mapping) (*Mapping, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO route_mappings (path, method, permission_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		m.Path, m.Method, m.PermissionID).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, httpx.ErrDuplicate
		}
		return nil, err
	}
	return r.Get(ctx, m.ID)
}

// Get fetches a mapping by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*Mapping, error) {
	row := r.pool.QueryRow(ctx, mappingSelect+` WHERE rm.id = $1`, id)
	m, err := scanMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Update replaces path, method and permission of a mapping.
func (r *Repository) Update(ctx context.Context, id int64, m Mapping) (*Mapping, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE route_mappings SET path = $2, method = $3, permission_id = $4, updated_at = NOW()
		WHERE id = $1`, id, m.Path, m.Method, m.PermissionID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, httpx.ErrDuplicate
		}
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, shared.ErrNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes a mapping.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM route_mappings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// BulkCreate inserts mappings in one transaction, skipping duplicates.
// Returns the number of rows actually inserted.
func (r *Repository) BulkCreate(ctx context.Context, mappings []Mapping) (int, error) {
	inserted := 0
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, m := range mappings {
		tag, err := tx.Exec(ctx, `
			INSERT INTO route_mappings (path, method, permission_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (path, method) DO NOTHING`,
			m.Path, m.Method, m.PermissionID)
		if err != nil {
			return 0, err
		}
		inserted += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner) (*Mapping, error) {
	var m Mapping
	if err := row.Scan(&m.ID, &m.Path, &m.Method, &m.PermissionID, &m.PermissionName, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
