package routemap

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ErrInvalidMapping indicates a malformed mapping request.
var ErrInvalidMapping = errors.New("routemap: invalid mapping")

// Store defines the persistence operations the service depends on.
type Store interface {
	FindMapping(ctx context.Context, method, path string) (*Mapping, error)
	List(ctx context.Context, permissionName string) ([]Mapping, error)
	Create(ctx context.Context, m Mapping) (*Mapping, error)
	Get(ctx context.Context, id int64) (*Mapping, error)
	Update(ctx context.Context, id int64, m Mapping) (*Mapping, error)
	Delete(ctx context.Context, id int64) error
	BulkCreate(ctx context.Context, mappings []Mapping) (int, error)
}

var _ Store = (*Repository)(nil)

// CacheInvalidator drops cached lookups after a mapping changes, so policy
// edits take effect without waiting out the cache TTL.
type CacheInvalidator interface {
	Invalidate(method, path string)
}

// Service administers route mappings and proposes mappings for unmapped routes.
type Service struct {
	store       Store
	invalidator CacheInvalidator
}

// NewService constructs a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// SetInvalidator attaches the authorization engine's route cache. Called once
// during wiring; the engine itself consumes this service as its mapping store.
func (s *Service) SetInvalidator(inv CacheInvalidator) {
	s.invalidator = inv
}

func (s *Service) invalidate(m *Mapping) {
	if s.invalidator == nil || m == nil {
		return
	}
	s.invalidator.Invalidate(m.Method, m.Path)
}

// FindMapping resolves a mapping for the authorization engine.
func (s *Service) FindMapping(ctx context.Context, method, path string) (*Mapping, error) {
	return s.store.FindMapping(ctx, strings.ToUpper(method), path)
}

// List returns mappings, optionally filtered by permission name.
func (s *Service) List(ctx context.Context, permissionName string) ([]Mapping, error) {
	return s.store.List(ctx, strings.TrimSpace(permissionName))
}

// Create validates and inserts a mapping.
func (s *Service) Create(ctx context.Context, m Mapping) (*Mapping, error) {
	normalized, err := normalizeMapping(m)
	if err != nil {
		return nil, err
	}
	created, err := s.store.Create(ctx, normalized)
	if err != nil {
		return nil, err
	}
	s.invalidate(created)
	return created, nil
}

// Update validates and replaces a mapping.
func (s *Service) Update(ctx context.Context, id int64, m Mapping) (*Mapping, error) {
	normalized, err := normalizeMapping(m)
	if err != nil {
		return nil, err
	}
	previous, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, id, normalized)
	if err != nil {
		return nil, err
	}
	s.invalidate(previous)
	s.invalidate(updated)
	return updated, nil
}

// Delete removes a mapping.
func (s *Service) Delete(ctx context.Context, id int64) error {
	previous, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(previous)
	return nil
}

// BulkCreate validates and inserts mappings, skipping existing pairs.
func (s *Service) BulkCreate(ctx context.Context, mappings []Mapping) (int, error) {
	normalized := make([]Mapping, 0, len(mappings))
	for _, m := range mappings {
		n, err := normalizeMapping(m)
		if err != nil {
			return 0, err
		}
		normalized = append(normalized, n)
	}
	inserted, err := s.store.BulkCreate(ctx, normalized)
	if err != nil {
		return 0, err
	}
	for i := range normalized {
		s.invalidate(&normalized[i])
	}
	return inserted, nil
}

// Discover walks the registered chi routes and proposes mappings for routes
// that have none yet. The permission-name heuristics are deliberately simple:
// GET/HEAD propose view_{resource}, every other verb manage_{resource}, where
// resource is the last static path segment.
func (s *Service) Discover(ctx context.Context, routes chi.Routes) ([]Proposal, error) {
	existing, err := s.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	mapped := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		mapped[m.Method+" "+m.Path] = struct{}{}
	}

	var proposals []Proposal
	walker := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		route = strings.TrimSuffix(route, "/")
		if route == "" {
			route = "/"
		}
		route = chiPatternToMapping(route)
		if _, ok := mapped[method+" "+route]; ok {
			return nil
		}
		proposals = append(proposals, Proposal{
			Method:              method,
			Path:                route,
			SuggestedPermission: suggestPermission(method, route),
		})
		return nil
	}
	if err := chi.Walk(routes, walker); err != nil {
		return nil, err
	}
	return proposals, nil
}

// chiPatternToMapping rewrites chi-style {param} segments to :param placeholders,
// the form mappings are stored in.
func chiPatternToMapping(route string) string {
	segments := strings.Split(route, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			segments[i] = ":" + strings.Trim(seg, "{}")
		}
		if seg == "*" {
			segments[i] = ":rest"
		}
	}
	return strings.Join(segments, "/")
}

func suggestPermission(method, route string) string {
	resource := "resource"
	for _, seg := range strings.Split(route, "/") {
		if seg == "" || strings.HasPrefix(seg, ":") || seg == "api" {
			continue
		}
		resource = strings.ReplaceAll(seg, "-", "_")
	}
	if method == http.MethodGet || method == http.MethodHead {
		return "view_" + resource
	}
	return "manage_" + resource
}

func normalizeMapping(m Mapping) (Mapping, error) {
	m.Method = strings.ToUpper(strings.TrimSpace(m.Method))
	m.Path = strings.TrimSpace(m.Path)
	switch m.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return Mapping{}, ErrInvalidMapping
	}
	if !strings.HasPrefix(m.Path, "/") {
		return Mapping{}, ErrInvalidMapping
	}
	if len(m.Path) > 1 {
		m.Path = strings.TrimSuffix(m.Path, "/")
	}
	return m, nil
}
