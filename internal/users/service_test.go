package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/souqline/souqline/internal/audit"
	"github.com/souqline/souqline/internal/rbac"
	"github.com/souqline/souqline/internal/shared"
)

type mockStore struct {
	users     map[int64]*User
	created   []*User
	banCalls  int
	roleSlots map[int64]map[rbac.RoleType]*int64
}

func newMockStore(users ...*User) *mockStore {
	s := &mockStore{users: map[int64]*User{}, roleSlots: map[int64]map[rbac.RoleType]*int64{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *mockStore) List(context.Context, Filters) ([]User, int, error) {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (s *mockStore) Get(_ context.Context, id int64) (*User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

func (s *mockStore) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *mockStore) Create(_ context.Context, user *User) (*User, error) {
	s.created = append(s.created, user)
	user.ID = int64(len(s.created))
	return user, nil
}

func (s *mockStore) SetBan(_ context.Context, id int64, banned bool, reason string, until *time.Time) error {
	u, ok := s.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	s.banCalls++
	u.IsBanned = banned
	u.BanReason = reason
	u.BannedUntil = until
	return nil
}

func (s *mockStore) SetSuspended(_ context.Context, id int64, suspended bool) error {
	u, ok := s.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsSuspended = suspended
	return nil
}

func (s *mockStore) AssignRole(_ context.Context, id int64, slot rbac.RoleType, roleID *int64) error {
	if _, ok := s.users[id]; !ok {
		return shared.ErrNotFound
	}
	if s.roleSlots[id] == nil {
		s.roleSlots[id] = map[rbac.RoleType]*int64{}
	}
	s.roleSlots[id][slot] = roleID
	return nil
}

type mockRoles struct {
	roles map[int64]*rbac.Role
}

func (m *mockRoles) GetRole(_ context.Context, id int64) (*rbac.Role, error) {
	if role, ok := m.roles[id]; ok {
		return role, nil
	}
	return nil, shared.ErrNotFound
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(event audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func TestBanRequiresReasonAndForeignTarget(t *testing.T) {
	store := newMockStore(&User{ID: 2, Email: "vendor@souqline.test"})
	sink := &recordingSink{}
	svc := NewService(store, &mockRoles{}, sink)

	err := svc.Ban(context.Background(), Actor{UserID: 1}, 2, Ban{})
	assert.ErrorIs(t, err, ErrBanReason)

	err = svc.Ban(context.Background(), Actor{UserID: 2}, 2, Ban{Reason: "fraud"})
	assert.ErrorIs(t, err, ErrSelfModeration)

	assert.Zero(t, store.banCalls)
	assert.Empty(t, sink.events)
}

func TestBanPersistsAndAudits(t *testing.T) {
	store := newMockStore(&User{ID: 2, Email: "vendor@souqline.test"})
	sink := &recordingSink{}
	svc := NewService(store, &mockRoles{}, sink)

	until := time.Now().Add(72 * time.Hour)
	err := svc.Ban(context.Background(), Actor{UserID: 1, IP: "198.51.100.9"}, 2, Ban{Reason: "counterfeit listings", Until: &until})
	require.NoError(t, err)

	assert.True(t, store.users[2].IsBanned)
	assert.Equal(t, "counterfeit listings", store.users[2].BanReason)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, audit.ActionUserBan, event.Action)
	assert.Equal(t, audit.SeverityCritical, event.Severity)
	require.NotNil(t, event.UserID)
	assert.Equal(t, int64(1), *event.UserID, "the actor is the event subject")
	assert.Equal(t, "2", event.ResourceID)
}

func TestSuspendIsWarningSeverity(t *testing.T) {
	store := newMockStore(&User{ID: 2})
	sink := &recordingSink{}
	svc := NewService(store, &mockRoles{}, sink)

	require.NoError(t, svc.Suspend(context.Background(), Actor{UserID: 1}, 2))
	assert.True(t, store.users[2].IsSuspended)
	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.SeverityWarning, sink.events[0].Severity)

	require.NoError(t, svc.Unsuspend(context.Background(), Actor{UserID: 1}, 2))
	assert.False(t, store.users[2].IsSuspended)
}

func TestAssignRoleValidatesSlotType(t *testing.T) {
	store := newMockStore(&User{ID: 2})
	roles := &mockRoles{roles: map[int64]*rbac.Role{
		10: {ID: 10, Name: "vendor", Type: rbac.RoleTypeBusiness},
		20: {ID: 20, Name: "support", Type: rbac.RoleTypeAdmin},
	}}
	sink := &recordingSink{}
	svc := NewService(store, roles, sink)

	adminRoleID := int64(20)
	err := svc.AssignRole(context.Background(), Actor{UserID: 1}, 2, RoleAssignment{Slot: rbac.RoleTypeBusiness, RoleID: &adminRoleID})
	assert.ErrorIs(t, err, ErrSlotMismatch)

	businessRoleID := int64(10)
	err = svc.AssignRole(context.Background(), Actor{UserID: 1}, 2, RoleAssignment{Slot: rbac.RoleTypeBusiness, RoleID: &businessRoleID})
	require.NoError(t, err)
	assert.Equal(t, &businessRoleID, store.roleSlots[2][rbac.RoleTypeBusiness])

	// Clearing a slot needs no role lookup.
	err = svc.AssignRole(context.Background(), Actor{UserID: 1}, 2, RoleAssignment{Slot: rbac.RoleTypeAdmin})
	require.NoError(t, err)
	assert.Nil(t, store.roleSlots[2][rbac.RoleTypeAdmin])
}

func TestCreateHashesPassword(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, &mockRoles{}, &recordingSink{})

	user, err := svc.Create(context.Background(), "Admin@Souqline.Test", "  Platform Admin ", "correct-horse-battery")
	require.NoError(t, err)
	assert.Equal(t, "admin@souqline.test", user.Email)
	assert.Equal(t, "Platform Admin", user.Name)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct-horse-battery")))
}
