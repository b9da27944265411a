// Package idempotency provides a short-lived, Redis-backed claim store for
// Create's optional idempotency key, so a retried request with the same key
// returns the original instance instead of creating a duplicate.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrAlreadyClaimed names the condition of a key already held by a
// different instance. Claim does not return it; Claim reports that case as
// claimed=false together with the existing instance ID.
var ErrAlreadyClaimed = errors.New("idempotency key already claimed")

// Store claims idempotency keys against an instance ID, scoped by
// organization so two tenants can reuse the same caller-chosen key.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// New builds a Store. ttl bounds how long a claim survives; after it
// expires, a retried request with the same key creates a new instance
// rather than erroring, matching a "best-effort, not permanent" dedup
// contract.
func New(redisClient *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{redis: redisClient, ttl: ttl}
}

func (s *Store) key(orgID, idemKey string) string {
	return fmt.Sprintf("workflowd:idempotency:%s:%s", orgID, idemKey)
}

// Claim attempts to atomically associate idemKey with instanceID. It
// returns the existing instance ID and ok=false if the key was already
// claimed (by this or another instance); callers should look that instance
// up rather than creating a new one.
func (s *Store) Claim(ctx context.Context, orgID, idemKey, instanceID string) (existing string, claimed bool, err error) {
	if s.redis == nil {
		return "", true, nil
	}
	ok, err := s.redis.SetNX(ctx, s.key(orgID, idemKey), instanceID, s.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	existing, err = s.redis.Get(ctx, s.key(orgID, idemKey)).Result()
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// Release drops a claim, used when the instance it pointed at failed to
// persist and the key should be retryable immediately.
func (s *Store) Release(ctx context.Context, orgID, idemKey string) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Del(ctx, s.key(orgID, idemKey)).Err()
}
