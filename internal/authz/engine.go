package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/souqline/souqline/internal/audit"
	"github.com/souqline/souqline/internal/observability"
	"github.com/souqline/souqline/internal/rbac"
	"github.com/souqline/souqline/internal/shared"
)

// Terminal decision reasons. ReasonMissingPermissionPrefix is completed with
// the permission name in audit records; HTTP responses never echo it.
const (
	ReasonPublicRoute             = "public route"
	ReasonNotAuthenticated        = "not authenticated"
	ReasonUserNotFound            = "user not found"
	ReasonBanned                  = "account is banned"
	ReasonNoMapping               = "no mapping found"
	ReasonNoPermissionRequired    = "route exists, no permission required"
	ReasonPermissionGranted       = "permission granted"
	ReasonMissingPermissionPrefix = "Missing permission: "
)

// PrincipalResolver loads a principal with both role slots and their
// permission sets. shared.ErrNotFound means no such user.
type PrincipalResolver interface {
	FindPrincipalWithRoles(ctx context.Context, userID int64) (*rbac.Principal, error)
}

// AuditSink accepts audit events fire-and-forget.
type AuditSink interface {
	Record(event audit.Event)
}

// Request describes one authorization check.
type Request struct {
	Method       string
	Path         string           // raw request path
	RoutePattern string           // matched route pattern, empty if unknown
	Identity     *shared.Identity // nil for anonymous requests
	IP           string
	UserAgent    string
}

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed            bool
	Reason             string
	RequiredPermission string
}

// Config assembles an Engine.
type Config struct {
	Resolver PrincipalResolver
	Mappings MappingStore
	Sink     AuditSink
	Public   *PublicRoutes
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	CacheTTL time.Duration
}

// Engine decides, per request, whether the caller may reach the handler. The
// route policy is data: mappings live in the database, are cached with a
// bounded TTL, and administrators change them without a deploy. Routes with
// no mapping are allowed through so that adding an endpoint never locks
// operators out; mapping store failures deny.
type Engine struct {
	resolver PrincipalResolver
	cache    *RouteCache
	tracker  *FailureTracker
	sink     AuditSink
	public   *PublicRoutes
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewEngine constructs an Engine and its route cache and failure tracker.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	public := cfg.Public
	if public == nil {
		public = NewPublicRoutes()
	}
	return &Engine{
		resolver: cfg.Resolver,
		cache:    NewRouteCache(cfg.Mappings, cfg.CacheTTL, cfg.Metrics),
		tracker:  NewFailureTracker(cfg.Sink, logger, cfg.Metrics),
		sink:     cfg.Sink,
		public:   public,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Public exposes the public-route registry for router wiring.
func (e *Engine) Public() *PublicRoutes {
	return e.public
}

// Cache exposes the route cache for administrative invalidation.
func (e *Engine) Cache() *RouteCache {
	return e.cache
}

// StartSweeps runs the cache and tracker eviction loops until ctx is
// cancelled.
func (e *Engine) StartSweeps(ctx context.Context) {
	go e.cache.StartSweep(ctx)
	go e.tracker.StartSweep(ctx)
}

// Authorize runs the decision algorithm. It returns an error only when a
// dependency failed and no decision could be made; the caller must treat that
// as a denial. Every decided outcome produces exactly one audit event.
func (e *Engine) Authorize(ctx context.Context, req Request) (Decision, error) {
	// Step 1: public routes bypass authentication entirely, but still leave
	// an audit trail, attributed to the caller when one is known.
	if e.public.IsPublic(req.Method, req.RoutePattern, req.Path) {
		var userID *int64
		if req.Identity != nil && req.Identity.UserID != 0 {
			userID = &req.Identity.UserID
		}
		e.record(req, userID, audit.Event{
			Action:   audit.ActionPublicAccess,
			Success:  true,
			Metadata: map[string]any{"reason": ReasonPublicRoute},
		})
		return e.allow(ReasonPublicRoute, ""), nil
	}

	// Step 2: an authenticated identity is required from here on.
	if req.Identity == nil || req.Identity.UserID == 0 {
		e.record(req, nil, audit.Event{
			Action:        audit.ActionAuthorization,
			Success:       false,
			FailureReason: strPtr(ReasonNotAuthenticated),
		})
		return e.deny(ReasonNotAuthenticated, ""), nil
	}

	// Step 3: resolve the principal with both role slots.
	principal, err := e.resolver.FindPrincipalWithRoles(ctx, req.Identity.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			e.record(req, &req.Identity.UserID, audit.Event{
				Action:        audit.ActionAuthorization,
				Success:       false,
				FailureReason: strPtr(ReasonUserNotFound),
			})
			return e.deny(ReasonUserNotFound, ""), nil
		}
		e.metrics.ObserveDecision(observability.DecisionError)
		return Decision{}, fmt.Errorf("authz: resolve principal %d: %w", req.Identity.UserID, err)
	}

	// Step 4: a ban denies everything, before any route policy is consulted.
	if principal.IsBanned {
		e.record(req, &principal.ID, audit.Event{
			Action:        audit.ActionAuthorization,
			Severity:      audit.SeverityCritical,
			Success:       false,
			FailureReason: strPtr(ReasonBanned),
			Metadata:      banMetadata(principal),
		})
		return e.deny(ReasonBanned, ""), nil
	}

	// Step 5: suspension is advisory. The request proceeds, but every event
	// it produces is raised to warning severity.
	severity := ""
	var advisory map[string]any
	if principal.IsSuspended {
		severity = audit.SeverityWarning
		advisory = map[string]any{"suspended": true}
	}

	// Step 6: route policy lookup, cache first.
	mapping, err := e.cache.Lookup(ctx, req.Method, e.lookupPath(req))
	if err != nil {
		e.metrics.ObserveDecision(observability.DecisionError)
		return Decision{}, fmt.Errorf("authz: route policy lookup: %w", err)
	}
	if mapping == nil {
		e.record(req, &principal.ID, audit.Event{
			Action:   audit.ActionPublicAccess,
			Severity: severity,
			Success:  true,
			Metadata: mergeMetadata(advisory, map[string]any{"reason": ReasonNoMapping}),
		})
		return e.allow(ReasonNoMapping, ""), nil
	}

	// Step 7: a mapping without a permission documents the route but gates
	// nothing.
	if !mapping.RequiresPermission() {
		e.record(req, &principal.ID, audit.Event{
			Action:   audit.ActionAuthorization,
			Severity: severity,
			Success:  true,
			Metadata: mergeMetadata(advisory, map[string]any{"reason": ReasonNoPermissionRequired}),
		})
		return e.allow(ReasonNoPermissionRequired, ""), nil
	}

	// Step 8: the principal's effective permission set (union of both role
	// slots) must contain the required permission.
	required := *mapping.PermissionName
	if principal.HasPermission(required) {
		e.record(req, &principal.ID, audit.Event{
			Action:             audit.ActionAuthorization,
			Severity:           severity,
			Success:            true,
			RequiredPermission: &required,
			Metadata:           advisory,
		})
		return e.allow(ReasonPermissionGranted, required), nil
	}

	reason := ReasonMissingPermissionPrefix + required
	e.record(req, &principal.ID, audit.Event{
		Action:             audit.ActionAuthorization,
		Severity:           severity,
		Success:            false,
		RequiredPermission: &required,
		FailureReason:      &reason,
		Metadata:           mergeMetadata(advisory, map[string]any{"held_permissions": principal.PermissionNames()}),
	})
	e.tracker.RecordFailure(principal.ID, FailureMeta{
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Path:      req.Path,
		Method:    req.Method,
	})
	return e.deny(reason, required), nil
}

// lookupPath is the key the route policy is queried with: the registered
// route pattern verbatim when routing supplied one, otherwise the normalized
// raw path.
func (e *Engine) lookupPath(req Request) string {
	if req.RoutePattern != "" {
		return patternToLookupPath(req.RoutePattern)
	}
	return NormalizePath(req.Path)
}

func (e *Engine) allow(reason, required string) Decision {
	e.metrics.ObserveDecision(observability.DecisionAllow)
	return Decision{Allowed: true, Reason: reason, RequiredPermission: required}
}

func (e *Engine) deny(reason, required string) Decision {
	e.metrics.ObserveDecision(observability.DecisionDeny)
	return Decision{Allowed: false, Reason: reason, RequiredPermission: required}
}

func (e *Engine) record(req Request, userID *int64, event audit.Event) {
	event.UserID = userID
	event.IP = req.IP
	event.UserAgent = req.UserAgent
	event.Path = req.Path
	event.Method = req.Method
	e.sink.Record(event)
}

func banMetadata(p *rbac.Principal) map[string]any {
	meta := map[string]any{}
	if p.BanReason != "" {
		meta["ban_reason"] = p.BanReason
	}
	if p.BannedUntil != nil {
		meta["banned_until"] = p.BannedUntil.UTC().Format(time.RFC3339)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	if len(base) == 0 {
		return extra
	}
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func strPtr(s string) *string {
	return &s
}
