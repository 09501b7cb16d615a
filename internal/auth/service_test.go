package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/souqline/souqline/internal/audit"
	"github.com/souqline/souqline/internal/shared"
	"github.com/souqline/souqline/internal/users"
)

type stubCredentials struct {
	accounts map[string]*users.User
}

func (s *stubCredentials) GetByEmail(_ context.Context, email string) (*users.User, error) {
	if u, ok := s.accounts[email]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

type stubSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *stubSink) Record(event audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *stubSink) last(t *testing.T) audit.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	return s.events[len(s.events)-1]
}

func newTestService(t *testing.T, accounts ...*users.User) (*Service, *stubSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	creds := &stubCredentials{accounts: map[string]*users.User{}}
	for _, u := range accounts {
		creds.accounts[u.Email] = u
	}
	sink := &stubSink{}
	issuer := NewTokenIssuer([]byte("test-secret-test-secret-test"), "souqline", time.Hour)
	return NewService(creds, issuer, NewRevocationList(client), sink), sink, mr
}

func account(password string) *users.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return &users.User{
		ID:           7,
		Email:        "vendor@souqline.test",
		Name:         "Vendor",
		PasswordHash: string(hash),
		IsActive:     true,
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, sink, _ := newTestService(t, account("s3cret-password"))

	session, err := svc.Login(context.Background(), "vendor@souqline.test", "s3cret-password", RequestMeta{IP: "203.0.113.4"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, int64(7), session.UserID)

	identity, err := svc.Verify(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), identity.UserID)
	assert.Equal(t, "vendor@souqline.test", identity.Email)
	assert.NotEmpty(t, identity.TokenID)

	event := sink.last(t)
	assert.Equal(t, audit.ActionLogin, event.Action)
	assert.True(t, event.Success)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, sink, _ := newTestService(t, account("s3cret-password"))

	_, err := svc.Login(context.Background(), "vendor@souqline.test", "wrong", RequestMeta{})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	event := sink.last(t)
	assert.False(t, event.Success)
	assert.Equal(t, audit.SeverityWarning, event.Severity)
}

func TestLoginUnknownAccount(t *testing.T) {
	svc, sink, _ := newTestService(t)

	_, err := svc.Login(context.Background(), "ghost@souqline.test", "whatever", RequestMeta{})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.Nil(t, sink.last(t).UserID)
}

func TestLoginBannedAccount(t *testing.T) {
	banned := account("s3cret-password")
	banned.IsBanned = true
	svc, _, _ := newTestService(t, banned)

	_, err := svc.Login(context.Background(), "vendor@souqline.test", "s3cret-password", RequestMeta{})
	assert.ErrorIs(t, err, ErrAccountBanned)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, sink, _ := newTestService(t, account("s3cret-password"))

	session, err := svc.Login(context.Background(), "vendor@souqline.test", "s3cret-password", RequestMeta{})
	require.NoError(t, err)
	identity, err := svc.Verify(context.Background(), session.Token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), identity, RequestMeta{}))
	_, err = svc.Verify(context.Background(), session.Token)
	assert.ErrorIs(t, err, shared.ErrTokenRevoked)
	assert.Equal(t, audit.ActionLogout, sink.last(t).Action)
}

func TestRevocationEntryBoundedByTokenLifetime(t *testing.T) {
	svc, _, mr := newTestService(t, account("s3cret-password"))

	session, err := svc.Login(context.Background(), "vendor@souqline.test", "s3cret-password", RequestMeta{})
	require.NoError(t, err)
	identity, err := svc.Verify(context.Background(), session.Token)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(context.Background(), identity, RequestMeta{}))

	// The denylist entry only needs to outlive the token it revokes.
	ttl := mr.TTL(revocationPrefix + identity.TokenID)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc, _, _ := newTestService(t, account("s3cret-password"))

	session, err := svc.Login(context.Background(), "vendor@souqline.test", "s3cret-password", RequestMeta{})
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), session.Token+"x")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}
