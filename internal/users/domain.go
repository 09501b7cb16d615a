// Package users administers accounts: listing, moderation (ban, suspend) and
// role slot assignment. Moderation decisions feed the authorization engine
// through the users table; every action leaves an audit record.
package users

import (
	"time"

	"github.com/souqline/souqline/internal/rbac"
)

// User represents a managed account. PasswordHash never leaves the package.
type User struct {
	ID             int64
	Email          string
	Name           string
	PasswordHash   string
	IsActive       bool
	IsBanned       bool
	BanReason      string
	BannedUntil    *time.Time
	IsSuspended    bool
	RoleID         *int64 // business slot
	AssignedRoleID *int64 // administrative slot
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Ban captures a moderation ban. A nil Until is indefinite.
type Ban struct {
	Reason string
	Until  *time.Time
}

// RoleAssignment sets one role slot. A nil RoleID clears the slot.
type RoleAssignment struct {
	Slot   rbac.RoleType
	RoleID *int64
}

// Filters narrows user listings.
type Filters struct {
	Query     string
	Banned    *bool
	Suspended *bool
	Page      int
	PerPage   int
}
