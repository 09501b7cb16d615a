package shared

// Well-known permission names. The authorization engine itself is data driven;
// these constants exist for seeding and for route discovery proposals.
const (
	PermViewProducts   = "view_products"
	PermManageProducts = "manage_products"

	PermViewUsers   = "view_users"
	PermManageUsers = "manage_users"

	PermViewRoles   = "view_roles"
	PermManageRoles = "manage_roles"

	PermViewRouteMappings   = "view_route_mappings"
	PermManageRouteMappings = "manage_route_mappings"

	PermViewAuditLog   = "view_audit_log"
	PermExportAuditLog = "export_audit_log"

	PermViewRefunds   = "view_refunds"
	PermManageRefunds = "manage_refunds"

	PermViewVendorDashboard = "view_vendor_dashboard"
)

// CoreScopes lists permissions owned by the core platform surfaces.
func CoreScopes() []string {
	return []string{
		PermViewUsers,
		PermManageUsers,
		PermViewRoles,
		PermManageRoles,
		PermViewRouteMappings,
		PermManageRouteMappings,
		PermViewAuditLog,
		PermExportAuditLog,
	}
}
