// Package routemap maintains the persisted associations between API routes and
// the permissions required to call them. The authorization engine consumes this
// data read-only; administration happens through the handler in this package.
package routemap

import "time"

// Mapping associates an HTTP method and path pattern with a required
// permission. A nil PermissionID means the route requires authentication only.
// Mappings are unique on (path, method).
type Mapping struct {
	ID             int64
	Path           string
	Method         string
	PermissionID   *int64
	PermissionName *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RequiresPermission reports whether the mapping is linked to a permission.
func (m *Mapping) RequiresPermission() bool {
	return m != nil && m.PermissionName != nil && *m.PermissionName != ""
}

// Proposal is a discovered route that has no mapping yet, with a suggested
// permission name derived from naming conventions.
type Proposal struct {
	Method              string `json:"method"`
	Path                string `json:"path"`
	SuggestedPermission string `json:"suggested_permission"`
}
