package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqline/souqline/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles and permissions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, type, priority, is_default, is_system, created_at, updated_at, deleted_at`

// ListPermissions returns the full permission catalog ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, resource, action, is_system, category, created_at FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.IsSystem, &p.Category, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermissionByName fetches a single permission by its unique name.
func (r *Repository) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `SELECT id, name, resource, action, is_system, category, created_at FROM permissions WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.IsSystem, &p.Category, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsurePermission upserts a permission by name.
func (r *Repository) EnsurePermission(ctx context.Context, p Permission) (*Permission, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, resource, action, is_system, category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET resource = EXCLUDED.resource, action = EXCLUDED.action, category = EXCLUDED.category
		RETURNING id, created_at`,
		p.Name, p.Resource, p.Action, p.IsSystem, p.Category).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListRoles returns all live roles ordered by priority descending.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE deleted_at IS NULL ORDER BY priority DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// GetRole fetches a live role by ID with its permission set hydrated.
func (r *Repository) GetRole(ctx context.Context, id int64) (*Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 AND deleted_at IS NULL`, id)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	perms, err := r.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (*Role, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, type, priority, is_default, is_system)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		role.Name, role.Type, role.Priority, role.IsDefault, role.IsSystem).
		Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// UpdateRole updates name and priority of an existing live role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name string, priority int) (*Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, priority = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+roleColumns, id, name, priority)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

// SoftDeleteRole marks a role deleted. Join rows are kept; resolution treats
// a deleted role as granting nothing.
func (r *Repository) SoftDeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL AND is_system = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetRolePermissions replaces the permission set of a role.
func (r *Repository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	existing, err := r.rolePermissions(ctx, roleID)
	if err != nil {
		return err
	}
	current := make(map[int64]struct{}, len(existing))
	for _, p := range existing {
		current[p.ID] = struct{}{}
	}
	keep := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		keep[id] = struct{}{}
		if _, ok := current[id]; !ok {
			if _, err := r.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, id); err != nil {
				return fmt.Errorf("rbac: attach permission %d: %w", id, err)
			}
		}
	}
	for id := range current {
		if _, ok := keep[id]; !ok {
			if _, err := r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, id); err != nil {
				return fmt.Errorf("rbac: detach permission %d: %w", id, err)
			}
		}
	}
	return nil
}

// FindPrincipalWithRoles loads a user with both role slots and their permission
// sets eagerly hydrated. Soft-deleted roles come back with empty permission sets.
func (r *Repository) FindPrincipalWithRoles(ctx context.Context, userID int64) (*Principal, error) {
	var (
		p              Principal
		roleID         *int64
		assignedRoleID *int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, is_banned, is_suspended, COALESCE(ban_reason, ''), banned_until, role_id, assigned_role_id
		FROM users WHERE id = $1`, userID).
		Scan(&p.ID, &p.Email, &p.IsBanned, &p.IsSuspended, &p.BanReason, &p.BannedUntil, &roleID, &assignedRoleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Role, err = r.loadRoleSlot(ctx, roleID); err != nil {
		return nil, err
	}
	if p.AssignedRole, err = r.loadRoleSlot(ctx, assignedRoleID); err != nil {
		return nil, err
	}
	return &p, nil
}

// loadRoleSlot hydrates one role slot. Deleted roles are returned with their
// DeletedAt timestamp set and no permissions.
func (r *Repository) loadRoleSlot(ctx context.Context, roleID *int64) (*Role, error) {
	if roleID == nil {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, *roleID)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !role.Live() {
		return role, nil
	}
	perms, err := r.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

func (r *Repository) rolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.resource, p.action, p.is_system, p.category, p.created_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.IsSystem, &p.Category, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Type, &role.Priority, &role.IsDefault, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt, &role.DeletedAt); err != nil {
		return nil, err
	}
	return &role, nil
}
