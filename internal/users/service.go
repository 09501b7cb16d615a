package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/souqline/souqline/internal/audit"
	"github.com/souqline/souqline/internal/rbac"
)

// Store defines data access for account administration.
type Store interface {
	List(ctx context.Context, f Filters) ([]User, int, error)
	Get(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	SetBan(ctx context.Context, id int64, banned bool, reason string, until *time.Time) error
	SetSuspended(ctx context.Context, id int64, suspended bool) error
	AssignRole(ctx context.Context, id int64, slot rbac.RoleType, roleID *int64) error
}

var _ Store = (*Repository)(nil)

// RoleDirectory resolves roles for assignment validation.
type RoleDirectory interface {
	GetRole(ctx context.Context, id int64) (*rbac.Role, error)
}

// AuditSink accepts audit events fire-and-forget.
type AuditSink interface {
	Record(event audit.Event)
}

// Moderation rule violations.
var (
	ErrSelfModeration = errors.New("users: cannot moderate own account")
	ErrBanReason      = errors.New("users: ban reason is required")
	ErrSlotMismatch   = errors.New("users: role type does not match slot")
)

// Actor identifies who performed an administrative action, for the audit
// trail.
type Actor struct {
	UserID    int64
	IP        string
	UserAgent string
}

// Service handles account administration.
type Service struct {
	store Store
	roles RoleDirectory
	sink  AuditSink
}

// NewService builds a Service.
func NewService(store Store, roles RoleDirectory, sink AuditSink) *Service {
	return &Service{store: store, roles: roles, sink: sink}
}

// List returns users matching the filters plus the total count.
func (s *Service) List(ctx context.Context, f Filters) ([]User, int, error) {
	return s.store.List(ctx, f)
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.store.Get(ctx, id)
}

// Create registers an account with a bcrypt password hash.
func (s *Service) Create(ctx context.Context, email, name, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	return s.store.Create(ctx, &User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		IsActive:     true,
	})
}

// Ban blocks an account. The ban denies every authorization check until
// lifted; reason is mandatory and actors cannot ban themselves.
func (s *Service) Ban(ctx context.Context, actor Actor, userID int64, ban Ban) error {
	if actor.UserID == userID {
		return ErrSelfModeration
	}
	if strings.TrimSpace(ban.Reason) == "" {
		return ErrBanReason
	}
	if err := s.store.SetBan(ctx, userID, true, ban.Reason, ban.Until); err != nil {
		return err
	}
	s.recordModeration(actor, userID, audit.ActionUserBan, audit.SeverityCritical, map[string]any{
		"banned": true,
		"reason": ban.Reason,
	})
	return nil
}

// Unban lifts a ban.
func (s *Service) Unban(ctx context.Context, actor Actor, userID int64) error {
	if err := s.store.SetBan(ctx, userID, false, "", nil); err != nil {
		return err
	}
	s.recordModeration(actor, userID, audit.ActionUserBan, audit.SeverityWarning, map[string]any{
		"banned": false,
	})
	return nil
}

// Suspend flags an account. Suspension is advisory: requests still pass
// authorization but are recorded at warning severity.
func (s *Service) Suspend(ctx context.Context, actor Actor, userID int64) error {
	if actor.UserID == userID {
		return ErrSelfModeration
	}
	if err := s.store.SetSuspended(ctx, userID, true); err != nil {
		return err
	}
	s.recordModeration(actor, userID, audit.ActionUserSuspend, audit.SeverityWarning, map[string]any{
		"suspended": true,
	})
	return nil
}

// Unsuspend clears the suspension flag.
func (s *Service) Unsuspend(ctx context.Context, actor Actor, userID int64) error {
	if err := s.store.SetSuspended(ctx, userID, false); err != nil {
		return err
	}
	s.recordModeration(actor, userID, audit.ActionUserSuspend, audit.SeverityInfo, map[string]any{
		"suspended": false,
	})
	return nil
}

// AssignRole sets one of the user's role slots. The role's type must match
// the slot; a nil RoleID clears it.
func (s *Service) AssignRole(ctx context.Context, actor Actor, userID int64, assignment RoleAssignment) error {
	if assignment.Slot != rbac.RoleTypeBusiness && assignment.Slot != rbac.RoleTypeAdmin {
		return ErrSlotMismatch
	}
	if assignment.RoleID != nil {
		role, err := s.roles.GetRole(ctx, *assignment.RoleID)
		if err != nil {
			return err
		}
		if role.Type != assignment.Slot {
			return ErrSlotMismatch
		}
	}
	if err := s.store.AssignRole(ctx, userID, assignment.Slot, assignment.RoleID); err != nil {
		return err
	}
	meta := map[string]any{"slot": string(assignment.Slot)}
	if assignment.RoleID != nil {
		meta["role_id"] = *assignment.RoleID
	} else {
		meta["cleared"] = true
	}
	s.recordModeration(actor, userID, audit.ActionUserRoleChange, audit.SeverityInfo, meta)
	return nil
}

func (s *Service) recordModeration(actor Actor, userID int64, action, severity string, meta map[string]any) {
	actorID := actor.UserID
	s.sink.Record(audit.Event{
		UserID:       &actorID,
		Action:       action,
		Severity:     severity,
		ResourceType: "user",
		ResourceID:   strconv.FormatInt(userID, 10),
		Success:      true,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
		Metadata:     meta,
	})
}
