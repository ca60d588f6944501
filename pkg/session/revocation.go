package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RevocationRegistry tracks revoked token IDs until their natural
// expiry. IsRevoked must fail closed: if the registry cannot answer,
// the token is treated as revoked.
type RevocationRegistry interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// MemoryRevocations keeps revoked token IDs in process memory
type MemoryRevocations struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocations creates an in-memory revocation registry
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke records the token ID until the given expiry
func (r *MemoryRevocations) Revoke(ctx context.Context, jti string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.revoked[jti] = until
	return nil
}

// IsRevoked reports whether the token ID has been revoked
func (r *MemoryRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.revoked[jti]
	return ok && r.now().Before(until), nil
}

// Count returns the number of live revocation entries
func (r *MemoryRevocations) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var n int64
	for _, until := range r.revoked {
		if now.Before(until) {
			n++
		}
	}
	return n, nil
}

// Close drops all entries
func (r *MemoryRevocations) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = make(map[string]time.Time)
	return nil
}

// sweepLocked drops entries past their token expiry. Called with the
// lock held.
func (r *MemoryRevocations) sweepLocked() {
	now := r.now()
	for jti, until := range r.revoked {
		if now.After(until) {
			delete(r.revoked, jti)
		}
	}
}

const redisRevokedPrefix = "gatekeeper:revoked:"

// RedisRevocations keeps revoked token IDs in redis, expiring each entry
// with the token it revokes
type RedisRevocations struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRevocations creates a redis-backed revocation registry
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client, now: time.Now}
}

// Revoke records the token ID until the given expiry
func (r *RedisRevocations) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, redisRevokedPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether the token ID has been revoked. A registry
// error is returned so the caller fails closed.
func (r *RedisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, redisRevokedPrefix+jti).Result()
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Count returns the number of live revocation entries
func (r *RedisRevocations) Count(ctx context.Context) (int64, error) {
	var count int64
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisRevokedPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		count += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Close releases the registry. The underlying client is shared and stays
// open.
func (r *RedisRevocations) Close() error {
	return nil
}
