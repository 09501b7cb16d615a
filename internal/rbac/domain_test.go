package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func perm(id int64, name string) Permission {
	return Permission{ID: id, Name: name}
}

func TestEffectivePermissionsUnionsBothSlots(t *testing.T) {
	p := Principal{
		Role: &Role{
			Type:        RoleTypeBusiness,
			Permissions: []Permission{perm(1, "view_products"), perm(2, "manage_products")},
		},
		AssignedRole: &Role{
			Type:        RoleTypeAdmin,
			Permissions: []Permission{perm(2, "manage_products"), perm(3, "view_users")},
		},
	}

	effective := p.EffectivePermissions()
	assert.Len(t, effective, 3)
	assert.True(t, p.HasPermission("view_products"))
	assert.True(t, p.HasPermission("view_users"))
	assert.False(t, p.HasPermission("manage_users"))
}

func TestSoftDeletedRoleGrantsNothing(t *testing.T) {
	deleted := time.Now()
	p := Principal{
		Role: &Role{
			Permissions: []Permission{perm(1, "view_products")},
			DeletedAt:   &deleted,
		},
	}

	assert.Empty(t, p.EffectivePermissions())
	assert.False(t, p.HasPermission("view_products"))
}

func TestHasPermissionWithNoRoles(t *testing.T) {
	var p Principal
	assert.False(t, p.HasPermission("view_products"))
	assert.Empty(t, p.PermissionNames())
}

func TestEffectivePriorityTakesHigherLiveSlot(t *testing.T) {
	deleted := time.Now()
	p := Principal{
		Role:         &Role{Priority: 10},
		AssignedRole: &Role{Priority: 100, DeletedAt: &deleted},
	}
	assert.Equal(t, 10, p.EffectivePriority())

	p.AssignedRole.DeletedAt = nil
	assert.Equal(t, 100, p.EffectivePriority())
}
