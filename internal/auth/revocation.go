package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const revocationPrefix = "auth:revoked:"

// RevocationList is a Redis-backed token denylist. Entries live only as long
// as the token they revoke could still be presented.
type RevocationList struct {
	client *redis.Client
}

// NewRevocationList constructs a RevocationList.
func NewRevocationList(client *redis.Client) *RevocationList {
	return &RevocationList{client: client}
}

// Revoke denylists a token id for ttl.
func (l *RevocationList) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return l.client.Set(ctx, revocationPrefix+tokenID, "1", ttl).Err()
}

// IsRevoked reports whether the token id is denylisted.
func (l *RevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := l.client.Get(ctx, revocationPrefix+tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
