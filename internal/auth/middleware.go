package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/souqline/souqline/internal/platform/httpx"
	"github.com/souqline/souqline/internal/shared"
)

// Middleware resolves the bearer token into an identity on the request
// context. Requests without a token pass through anonymous; the authorization
// engine decides what anonymity may reach. Presented-but-invalid tokens are
// rejected here.
func (s *Service) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := s.Verify(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, shared.ErrTokenRevoked), errors.Is(err, shared.ErrInvalidCredentials):
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or revoked token")
				default:
					logger.Error("verify token", slog.Any("error", err))
					httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "authentication unavailable")
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
