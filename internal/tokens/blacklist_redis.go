package tokens

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talentbase/backend/internal/crypto"
)

// Blacklist revokes first-party tokens before their natural expiry
// (logout). Backed by Redis with a TTL matching the token's remaining
// lifetime; constructor-injected, a nil client disables revocation.
//
// Tokens are stored by SHA-256 digest so the blacklist never holds a
// usable credential.
type Blacklist struct {
	client *redis.Client
	prefix string
}

func NewBlacklist(client *redis.Client) *Blacklist {
	return &Blacklist{client: client, prefix: "blacklist:access:"}
}

func (b *Blacklist) key(token string) string {
	return b.prefix + crypto.HashSHA256(token)
}

// Add stores the token for ttl. No-op without a client or with a
// non-positive ttl (the token is already dead).
func (b *Blacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if b == nil || b.client == nil || ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, b.key(token), "1", ttl).Err()
}

// Contains reports whether the token has been revoked. Without a client
// it reports false.
func (b *Blacklist) Contains(ctx context.Context, token string) (bool, error) {
	if b == nil || b.client == nil {
		return false, nil
	}
	n, err := b.client.Exists(ctx, b.key(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
