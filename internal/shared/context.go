package shared

import "context"

// Identity carries the authenticated principal attached to a request.
// A nil Identity in context means the request is anonymous.
type Identity struct {
	UserID  int64
	Email   string
	TokenID string
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
