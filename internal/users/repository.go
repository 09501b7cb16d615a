package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqline/souqline/internal/platform/httpx"
	"github.com/souqline/souqline/internal/rbac"
	"github.com/souqline/souqline/internal/shared"
)

const uniqueViolation = "23505"

const userColumns = `id, email, name, password_hash, is_active, is_banned, ban_reason,
	banned_until, is_suspended, role_id, assigned_role_id, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns users matching the filters plus the total count.
func (r *Repository) List(ctx context.Context, f Filters) ([]User, int, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Query != "" {
		pattern := "%" + strings.ToLower(f.Query) + "%"
		first := arg(pattern)
		conds = append(conds, "(LOWER(email) LIKE "+first+" OR LOWER(name) LIKE "+first+")")
	}
	if f.Banned != nil {
		conds = append(conds, "is_banned = "+arg(*f.Banned))
	}
	if f.Suspended != nil {
		conds = append(conds, "is_suspended = "+arg(*f.Suspended))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := shared.ClampPaging(f.Page, f.PerPage)
	query := `SELECT ` + userColumns + ` FROM users` + where +
		fmt.Sprintf(` ORDER BY id LIMIT %d OFFSET %d`, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

// Get returns one user by id.
func (r *Repository) Get(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail returns one user by email, matched case-insensitively.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts a new account and returns it.
func (r *Repository) Create(ctx context.Context, user *User) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, is_active, role_id, assigned_role_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		user.Email, user.Name, user.PasswordHash, user.IsActive, user.RoleID, user.AssignedRoleID)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, httpx.ErrDuplicate
		}
		return nil, err
	}
	return &created, nil
}

// SetBan applies or lifts a ban.
func (r *Repository) SetBan(ctx context.Context, id int64, banned bool, reason string, until *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET is_banned = $2, ban_reason = $3, banned_until = $4, updated_at = NOW()
		WHERE id = $1`, id, banned, reason, until)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetSuspended toggles the suspension flag.
func (r *Repository) SetSuspended(ctx context.Context, id int64, suspended bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET is_suspended = $2, updated_at = NOW() WHERE id = $1`, id, suspended)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AssignRole sets one role slot. A nil roleID clears the slot.
func (r *Repository) AssignRole(ctx context.Context, id int64, slot rbac.RoleType, roleID *int64) error {
	column := "role_id"
	if slot == rbac.RoleTypeAdmin {
		column = "assigned_role_id"
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET `+column+` = $2, updated_at = NOW() WHERE id = $1`, id, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.IsActive,
		&user.IsBanned, &user.BanReason, &user.BannedUntil, &user.IsSuspended,
		&user.RoleID, &user.AssignedRoleID, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}
