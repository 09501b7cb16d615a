package rbac

import (
	"context"
	"errors"
	"strings"
)

// Store defines the persistence operations the service depends on.
type Store interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	EnsurePermission(ctx context.Context, p Permission) (*Permission, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (*Role, error)
	CreateRole(ctx context.Context, role Role) (*Role, error)
	UpdateRole(ctx context.Context, id int64, name string, priority int) (*Role, error)
	SoftDeleteRole(ctx context.Context, id int64) error
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	FindPrincipalWithRoles(ctx context.Context, userID int64) (*Principal, error)
}

var _ Store = (*Repository)(nil)

// Service orchestrates role and permission administration.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GetPermissionByName resolves a permission by its unique name.
func (s *Service) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	return s.store.GetPermissionByName(ctx, strings.TrimSpace(name))
}

// EnsurePermission upserts a catalog entry, used by seeding and discovery.
func (s *Service) EnsurePermission(ctx context.Context, p Permission) (*Permission, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, errors.New("rbac: permission name required")
	}
	return s.store.EnsurePermission(ctx, p)
}

// ListRoles returns all live roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role with permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.store.GetRole(ctx, id)
}

// CreateRole inserts a new role after validating its type.
func (s *Service) CreateRole(ctx context.Context, role Role) (*Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return nil, errors.New("rbac: role name required")
	}
	if role.Type != RoleTypeBusiness && role.Type != RoleTypeAdmin {
		return nil, errors.New("rbac: role type must be business or admin")
	}
	return s.store.CreateRole(ctx, role)
}

// UpdateRole renames or reprioritizes an existing role.
func (s *Service) UpdateRole(ctx context.Context, id int64, name string, priority int) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("rbac: role name required")
	}
	return s.store.UpdateRole(ctx, id, name, priority)
}

// DeleteRole soft deletes a role. System roles cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.store.SoftDeleteRole(ctx, id)
}

// SetRolePermissions replaces a role's permission set.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.store.SetRolePermissions(ctx, roleID, permissionIDs)
}

// FindPrincipalWithRoles resolves the full principal for authorization.
func (s *Service) FindPrincipalWithRoles(ctx context.Context, userID int64) (*Principal, error) {
	return s.store.FindPrincipalWithRoles(ctx, userID)
}
