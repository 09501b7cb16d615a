package authz

import (
	"strings"
	"sync"
)

// PublicRoutes is the registry of routes served without authentication.
// Individual routes can be marked public or protected explicitly; a group
// prefix supplies the default for everything under it. A route-level entry
// always wins over its group's default.
type PublicRoutes struct {
	mu       sync.RWMutex
	routes   map[string]bool // "METHOD pattern" -> explicit marking
	prefixes map[string]bool // path prefix -> group default
}

// NewPublicRoutes constructs an empty registry.
func NewPublicRoutes() *PublicRoutes {
	return &PublicRoutes{
		routes:   make(map[string]bool),
		prefixes: make(map[string]bool),
	}
}

// MarkPublic marks a single route public. pattern is the registered route
// pattern in chi syntax.
func (p *PublicRoutes) MarkPublic(method, pattern string) {
	p.mu.Lock()
	p.routes[routeKey(method, pattern)] = true
	p.mu.Unlock()
}

// MarkProtected marks a single route as requiring authorization even when it
// sits under a public group prefix.
func (p *PublicRoutes) MarkProtected(method, pattern string) {
	p.mu.Lock()
	p.routes[routeKey(method, pattern)] = false
	p.mu.Unlock()
}

// MarkGroupPublic marks every route under the path prefix public by default.
func (p *PublicRoutes) MarkGroupPublic(prefix string) {
	if prefix == "" {
		prefix = "/"
	}
	p.mu.Lock()
	p.prefixes[prefix] = true
	p.mu.Unlock()
}

// IsPublic reports whether the request is served without authorization.
// pattern is the matched route pattern when known; path is the raw request
// path used for prefix matching.
func (p *PublicRoutes) IsPublic(method, pattern, path string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if pattern != "" {
		if public, ok := p.routes[routeKey(method, pattern)]; ok {
			return public
		}
	}
	if public, ok := p.routes[routeKey(method, path)]; ok {
		return public
	}
	for prefix, public := range p.prefixes {
		if strings.HasPrefix(path, prefix) {
			return public
		}
	}
	return false
}

func routeKey(method, pattern string) string {
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	return strings.ToUpper(method) + " " + pattern
}
