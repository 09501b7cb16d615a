// Package audit records security-relevant events. Writes are asynchronous and
// best effort; the read side serves compliance and forensics queries.
package audit

import "time"

// Event action kinds.
const (
	ActionAuthorization      = "authorization_check"
	ActionPublicAccess       = "public_access"
	ActionSuspiciousActivity = "suspicious_activity"
	ActionLogin              = "login"
	ActionLogout             = "logout"
	ActionUserBan            = "user_ban"
	ActionUserSuspend        = "user_suspend"
	ActionUserRoleChange     = "user_role_change"
	ActionRefundTransition   = "refund_transition"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is an append-only security audit record. Never mutated after insertion.
type Event struct {
	ID                 int64
	UserID             *int64 // nil for anonymous requests
	Action             string
	Severity           string
	ResourceType       string
	ResourceID         string
	RequiredPermission *string
	Success            bool
	FailureReason      *string
	IP                 string
	UserAgent          string
	Path               string
	Method             string
	Metadata           map[string]any
	CreatedAt          time.Time
}

// Filters narrows audit event listings.
type Filters struct {
	UserID       *int64
	Action       string
	ResourceType string
	Success      *bool
	IP           string
	From         time.Time
	To           time.Time
	Page         int
	PerPage      int
}
