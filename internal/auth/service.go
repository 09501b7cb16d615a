// Package auth issues and verifies bearer tokens. Authentication answers who
// the caller is; every access decision beyond that belongs to the
// authorization engine.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/souqline/souqline/internal/audit"
	"github.com/souqline/souqline/internal/shared"
	"github.com/souqline/souqline/internal/users"
)

// ErrAccountBanned rejects logins from banned accounts outright.
var ErrAccountBanned = errors.New("auth: account banned")

// CredentialStore resolves accounts for login.
type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (*users.User, error)
}

// AuditSink accepts audit events fire-and-forget.
type AuditSink interface {
	Record(event audit.Event)
}

// Session is an issued access token with its metadata.
type Session struct {
	Token     string
	ExpiresAt time.Time
	UserID    int64
	Email     string
	Name      string
}

// RequestMeta carries client context for audit records.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Service wraps the authentication rules.
type Service struct {
	store   CredentialStore
	issuer  *TokenIssuer
	revoked *RevocationList
	sink    AuditSink
}

// NewService constructs a Service.
func NewService(store CredentialStore, issuer *TokenIssuer, revoked *RevocationList, sink AuditSink) *Service {
	return &Service{store: store, issuer: issuer, revoked: revoked, sink: sink}
}

// Login validates credentials and issues a token. Credential failures are
// indistinguishable to the caller; banned accounts are told so.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (*Session, error) {
	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.recordLogin(nil, email, meta, false, "unknown account")
			return nil, shared.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: lookup account: %w", err)
	}
	if !user.IsActive {
		s.recordLogin(&user.ID, email, meta, false, "account inactive")
		return nil, shared.ErrInvalidCredentials
	}
	if user.IsBanned {
		s.recordLogin(&user.ID, email, meta, false, "account is banned")
		return nil, ErrAccountBanned
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordLogin(&user.ID, email, meta, false, "wrong password")
		return nil, shared.ErrInvalidCredentials
	}

	token, claims, err := s.issuer.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	s.recordLogin(&user.ID, email, meta, true, "")
	return &Session{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
	}, nil
}

// Logout denylists the presented token for the remainder of its possible
// lifetime.
func (s *Service) Logout(ctx context.Context, identity *shared.Identity, meta RequestMeta) error {
	if identity == nil || identity.TokenID == "" {
		return shared.ErrInvalidCredentials
	}
	if err := s.revoked.Revoke(ctx, identity.TokenID, s.issuer.TTL()); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	s.sink.Record(audit.Event{
		UserID:    &identity.UserID,
		Action:    audit.ActionLogout,
		Success:   true,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// Verify parses a bearer token and checks the revocation list.
func (s *Service) Verify(ctx context.Context, token string) (*shared.Identity, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: revocation check: %w", err)
	}
	if revoked {
		return nil, shared.ErrTokenRevoked
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return &shared.Identity{UserID: userID, Email: claims.Email, TokenID: claims.ID}, nil
}

func (s *Service) recordLogin(userID *int64, email string, meta RequestMeta, success bool, reason string) {
	event := audit.Event{
		UserID:    userID,
		Action:    audit.ActionLogin,
		Success:   success,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"email": email},
	}
	if !success {
		event.Severity = audit.SeverityWarning
		event.FailureReason = &reason
	}
	s.sink.Record(event)
}
