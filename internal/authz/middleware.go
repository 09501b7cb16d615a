package authz

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/souqline/internal/platform/httpx"
	"github.com/souqline/souqline/internal/shared"
)

// Middleware runs the engine before the matched handler. It must be attached
// with Group/With so the route pattern is available when it executes; when
// routing has only reached a subrouter mount the partial pattern is discarded
// and the raw path is normalized instead. Denials return generic problem
// documents: the required permission name is recorded in the audit trail,
// never echoed to the caller. An engine error denies with 500.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Method:       r.Method,
			Path:         r.URL.Path,
			RoutePattern: matchedPattern(r),
			Identity:     shared.IdentityFromContext(r.Context()),
			IP:           clientIP(r),
			UserAgent:    r.UserAgent(),
		}

		decision, err := e.Authorize(r.Context(), req)
		if err != nil {
			e.logger.Error("authorization check failed",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Any("error", err),
			)
			httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "authorization unavailable")
			return
		}
		if !decision.Allowed {
			switch decision.Reason {
			case ReasonNotAuthenticated, ReasonUserNotFound:
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			default:
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

// matchedPattern returns the resolved chi route pattern, or "" when routing
// has only descended to a subrouter mount. Middleware attached above a nested
// Route sees the mount's wildcard ("/api/v1/*"), not the leaf pattern, so a
// trailing "*" means the pattern is partial and the raw path must be
// normalized instead.
func matchedPattern(r *http.Request) string {
	routeCtx := chi.RouteContext(r.Context())
	if routeCtx == nil {
		return ""
	}
	pattern := routeCtx.RoutePattern()
	if strings.HasSuffix(pattern, "*") {
		return ""
	}
	return pattern
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
