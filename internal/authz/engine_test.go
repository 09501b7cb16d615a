package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souqline/souqline/internal/audit"
	"github.com/souqline/souqline/internal/rbac"
	"github.com/souqline/souqline/internal/routemap"
	"github.com/souqline/souqline/internal/shared"
)

type fakeResolver struct {
	principals map[int64]*rbac.Principal
	err        error
}

func (f *fakeResolver) FindPrincipalWithRoles(_ context.Context, userID int64) (*rbac.Principal, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.principals[userID]; ok {
		return p, nil
	}
	return nil, shared.ErrNotFound
}

func businessRole(perms ...string) *rbac.Role {
	role := &rbac.Role{ID: 10, Name: "vendor", Type: rbac.RoleTypeBusiness}
	for i, name := range perms {
		role.Permissions = append(role.Permissions, rbac.Permission{ID: int64(100 + i), Name: name})
	}
	return role
}

func adminRole(perms ...string) *rbac.Role {
	role := &rbac.Role{ID: 20, Name: "support", Type: rbac.RoleTypeAdmin}
	for i, name := range perms {
		role.Permissions = append(role.Permissions, rbac.Permission{ID: int64(200 + i), Name: name})
	}
	return role
}

func mapping(method, path, permission string) *routemap.Mapping {
	m := &routemap.Mapping{Path: path, Method: method}
	if permission != "" {
		m.PermissionName = &permission
	}
	return m
}

func mappingSet(mappings ...*routemap.Mapping) map[string]*routemap.Mapping {
	set := make(map[string]*routemap.Mapping, len(mappings))
	for _, m := range mappings {
		set[m.Method+" "+m.Path] = m
	}
	return set
}

type engineFixture struct {
	engine   *Engine
	resolver *fakeResolver
	store    *countingStore
	sink     *captureSink
}

func newFixture() *engineFixture {
	resolver := &fakeResolver{principals: map[int64]*rbac.Principal{}}
	store := &countingStore{}
	sink := &captureSink{}
	engine := NewEngine(Config{
		Resolver: resolver,
		Mappings: store,
		Sink:     sink,
	})
	return &engineFixture{engine: engine, resolver: resolver, store: store, sink: sink}
}

func request(userID int64, method, path string) Request {
	req := Request{
		Method:    method,
		Path:      path,
		IP:        "198.51.100.20",
		UserAgent: "go-test",
	}
	if userID != 0 {
		req.Identity = &shared.Identity{UserID: userID, Email: "user@souqline.test"}
	}
	return req
}

func TestAuthorizePublicRouteBypassesAuthentication(t *testing.T) {
	f := newFixture()
	f.engine.Public().MarkPublic("POST", "/api/v1/auth/login")

	decision, err := f.engine.Authorize(context.Background(), request(0, "POST", "/api/v1/auth/login"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonPublicRoute, decision.Reason)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionPublicAccess, events[0].Action)
	assert.True(t, events[0].Success)
	assert.Nil(t, events[0].UserID)
	assert.Equal(t, 0, f.store.calls, "public routes never consult the route policy")
}

func TestAuthorizePublicRouteAttributesKnownCaller(t *testing.T) {
	f := newFixture()
	f.engine.Public().MarkPublic("GET", "/api/v1/health")

	decision, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/health"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	events := f.sink.all()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].UserID, "an authenticated caller on a public route is attributed")
	assert.Equal(t, int64(7), *events[0].UserID)
}

func TestAuthorizePublicRouteOverrideWinsOverGroupDefault(t *testing.T) {
	f := newFixture()
	f.engine.Public().MarkGroupPublic("/api/v1/catalog")
	f.engine.Public().MarkProtected("GET", "/api/v1/catalog/internal")

	decision, err := f.engine.Authorize(context.Background(), request(0, "GET", "/api/v1/catalog/products"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = f.engine.Authorize(context.Background(), request(0, "GET", "/api/v1/catalog/internal"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonNotAuthenticated, decision.Reason)
}

func TestAuthorizeAnonymousDenied(t *testing.T) {
	f := newFixture()

	decision, err := f.engine.Authorize(context.Background(), request(0, "GET", "/api/v1/orders"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonNotAuthenticated, decision.Reason)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	require.NotNil(t, events[0].FailureReason)
	assert.Equal(t, ReasonNotAuthenticated, *events[0].FailureReason)
}

func TestAuthorizeUnknownUserDenied(t *testing.T) {
	f := newFixture()

	decision, err := f.engine.Authorize(context.Background(), request(99, "GET", "/api/v1/orders"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonUserNotFound, decision.Reason)
}

func TestAuthorizeBanDeniesEvenUnmappedRoutes(t *testing.T) {
	f := newFixture()
	until := time.Now().Add(24 * time.Hour)
	f.resolver.principals[7] = &rbac.Principal{
		ID: 7, IsBanned: true, BanReason: "chargeback fraud", BannedUntil: &until,
		Role: businessRole("view_products"),
	}

	decision, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/anything"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonBanned, decision.Reason)
	assert.Equal(t, 0, f.store.calls, "ban must deny before the route policy is consulted")

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
	assert.Equal(t, "chargeback fraud", events[0].Metadata["ban_reason"])
}

func TestAuthorizeUnmappedRouteAllowed(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: businessRole()}

	decision, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/experimental"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonNoMapping, decision.Reason)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionPublicAccess, events[0].Action)
	assert.True(t, events[0].Success)
	require.NotNil(t, events[0].UserID)
	assert.Equal(t, int64(7), *events[0].UserID)
}

func TestAuthorizeMappingWithoutPermissionAllows(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: businessRole()}
	f.store.mappings = mappingSet(mapping("GET", "/api/v1/profile", ""))

	decision, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/profile"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonNoPermissionRequired, decision.Reason)
}

func TestAuthorizePermissionFromBusinessRole(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: businessRole("view_products")}
	f.store.mappings = mappingSet(mapping("GET", "/api/v1/products", "view_products"))

	decision, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/products"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "view_products", decision.RequiredPermission)
}

func TestAuthorizePermissionFromAdminSlotUnion(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{
		ID:           7,
		Role:         businessRole("view_products"),
		AssignedRole: adminRole("manage_users"),
	}
	f.store.mappings = mappingSet(mapping("POST", "/api/v1/users/:id/ban", "manage_users"))

	decision, err := f.engine.Authorize(context.Background(), request(7, "POST", "/api/v1/users/42/ban"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "either role slot may satisfy the requirement")
}

func TestAuthorizeSoftDeletedRoleGrantsNothing(t *testing.T) {
	f := newFixture()
	deleted := time.Now()
	role := businessRole("view_products")
	role.DeletedAt = &deleted
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: role}
	f.store.mappings = mappingSet(mapping("GET", "/api/v1/products", "view_products"))

	decision, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/products"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestAuthorizeMissingPermissionDenies(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: businessRole("view_products")}
	f.store.mappings = mappingSet(mapping("DELETE", "/api/v1/products/:id", "manage_products"))

	decision, err := f.engine.Authorize(context.Background(), request(7, "DELETE", "/api/v1/products/55"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "Missing permission: manage_products", decision.Reason)
	assert.Equal(t, "manage_products", decision.RequiredPermission)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	require.NotNil(t, events[0].RequiredPermission)
	assert.Equal(t, "manage_products", *events[0].RequiredPermission)
	assert.Equal(t, 1, f.engine.tracker.Pending(7), "denial must count toward the anomaly threshold")
}

func TestAuthorizeRepeatedDenialsFlagAnomaly(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: businessRole()}
	f.store.mappings = mappingSet(mapping("DELETE", "/api/v1/products/:id", "manage_products"))

	for i := 0; i < failureThreshold; i++ {
		_, err := f.engine.Authorize(context.Background(), request(7, "DELETE", "/api/v1/products/55"))
		require.NoError(t, err)
	}

	var anomalies []audit.Event
	for _, e := range f.sink.all() {
		if e.Action == audit.ActionSuspiciousActivity {
			anomalies = append(anomalies, e)
		}
	}
	require.Len(t, anomalies, 1)
	assert.Equal(t, audit.SeverityCritical, anomalies[0].Severity)
	assert.Equal(t, 0, f.engine.tracker.Pending(7))
}

func TestAuthorizeSuspensionIsAdvisory(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, IsSuspended: true, Role: businessRole("view_products")}
	f.store.mappings = mappingSet(mapping("GET", "/api/v1/products", "view_products"))

	decision, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/products"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "suspension flags, it does not block")

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityWarning, events[0].Severity)
	assert.Equal(t, true, events[0].Metadata["suspended"])
}

func TestAuthorizeStoreErrorFailsClosed(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: businessRole("view_products")}
	f.store.err = errors.New("connection refused")

	_, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/products"))
	require.Error(t, err)
}

func TestAuthorizeResolverErrorFailsClosed(t *testing.T) {
	f := newFixture()
	f.resolver.err = errors.New("connection refused")

	_, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/products"))
	require.Error(t, err)
	assert.Empty(t, f.sink.all(), "undecided checks produce no audit event")
}

func TestAuthorizeRoutePatternUsedVerbatim(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: businessRole("manage_roles")}
	f.store.mappings = mappingSet(mapping("PUT", "/api/v1/roles/:id", "manage_roles"))

	req := request(7, "PUT", "/api/v1/roles/31")
	req.RoutePattern = "/api/v1/roles/{id}"
	decision, err := f.engine.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAuthorizeNormalizationDoesNotOverMatch(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: businessRole()}
	f.store.mappings = mappingSet(mapping("GET", "/api/:id/admin", "manage_users"))

	// /api/5/admin must not normalize into /api/:id/admin; with no mapping
	// for the literal path the request is treated as unmapped.
	decision, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/5/admin"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonNoMapping, decision.Reason)
}

func TestAuthorizeOneAuditEventPerDecision(t *testing.T) {
	f := newFixture()
	f.resolver.principals[7] = &rbac.Principal{ID: 7, Role: businessRole("view_products")}
	f.store.mappings = mappingSet(
		mapping("GET", "/api/v1/products", "view_products"),
		mapping("DELETE", "/api/v1/products/:id", "manage_products"),
	)

	_, err := f.engine.Authorize(context.Background(), request(7, "GET", "/api/v1/products"))
	require.NoError(t, err)
	_, err = f.engine.Authorize(context.Background(), request(7, "DELETE", "/api/v1/products/9"))
	require.NoError(t, err)

	assert.Len(t, f.sink.all(), 2)
}
