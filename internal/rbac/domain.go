package rbac

import "time"

// RoleType distinguishes the two independent role slots a user may hold.
type RoleType string

const (
	// RoleTypeBusiness is the vendor/business facing role slot.
	RoleTypeBusiness RoleType = "business"
	// RoleTypeAdmin is the administrative role slot.
	RoleTypeAdmin RoleType = "admin"
)

// Permission represents an atomic capability.
type Permission struct {
	ID        int64
	Name      string
	Resource  string
	Action    string
	IsSystem  bool
	Category  string
	CreatedAt time.Time
}

// Role represents a named permission grouping. Roles are soft deleted; a role
// with DeletedAt set grants zero permissions even if join rows still exist.
type Role struct {
	ID          int64
	Name        string
	Type        RoleType
	Priority    int
	IsDefault   bool
	IsSystem    bool
	Permissions []Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Live reports whether the role still grants its permissions.
func (r *Role) Live() bool {
	return r != nil && r.DeletedAt == nil
}

// Principal is a fully resolved user with both role slots hydrated.
type Principal struct {
	ID           int64
	Email        string
	IsBanned     bool
	IsSuspended  bool
	BanReason    string
	BannedUntil  *time.Time
	Role         *Role // business slot
	AssignedRole *Role // administrative slot
}

// EffectivePermissions returns the union of permissions granted through both
// role slots, de-duplicated by permission identity.
func (p *Principal) EffectivePermissions() map[int64]Permission {
	effective := make(map[int64]Permission)
	for _, role := range []*Role{p.Role, p.AssignedRole} {
		if !role.Live() {
			continue
		}
		for _, perm := range role.Permissions {
			effective[perm.ID] = perm
		}
	}
	return effective
}

// PermissionNames returns the effective permission names.
func (p *Principal) PermissionNames() []string {
	effective := p.EffectivePermissions()
	names := make([]string, 0, len(effective))
	for _, perm := range effective {
		names = append(names, perm.Name)
	}
	return names
}

// HasPermission reports whether the effective permission set contains name.
func (p *Principal) HasPermission(name string) bool {
	for _, perm := range p.EffectivePermissions() {
		if perm.Name == name {
			return true
		}
	}
	return false
}

// EffectivePriority returns the higher of the two role slot priorities.
// An absent slot contributes priority 0.
func (p *Principal) EffectivePriority() int {
	priority := 0
	for _, role := range []*Role{p.Role, p.AssignedRole} {
		if role.Live() && role.Priority > priority {
			priority = role.Priority
		}
	}
	return priority
}
