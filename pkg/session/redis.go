package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisSessionPrefix = "gatekeeper:session:"

// NewRedisClient creates a redis client shared across the session store,
// the revocation registry, and the login parameter store. The URL may be
// a bare host:port or a redis:// URL.
func NewRedisClient(url, password string, db int) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts = parsed
		if password != "" {
			opts.Password = password
		}
		if db != 0 {
			opts.DB = db
		}
	} else {
		opts = &redis.Options{
			Addr:     url,
			Password: password,
			DB:       db,
		}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisStore persists session metadata in redis so validation works from
// any service instance
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed session store
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Create stores the session metadata for the configured TTL
func (s *RedisStore) Create(ctx context.Context, meta *Metadata) error {
	data, err := marshalMetadata(meta)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisSessionPrefix+meta.SessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the session metadata
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Metadata, error) {
	data, err := s.client.Get(ctx, redisSessionPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return unmarshalMetadata([]byte(data))
}

// Touch bumps the access counter and last-access time without extending
// the session TTL
func (s *RedisStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	meta, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	meta.AccessCount++
	if at.After(meta.LastAccessedAt) {
		meta.LastAccessedAt = at
	}
	data, err := marshalMetadata(meta)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisSessionPrefix+sessionID, data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes the session. Deleting an absent session is not an error.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisSessionPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Count returns the number of live sessions by scanning the key space.
// This is an operational metric, not a hot path.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	var count int64
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisSessionPrefix+"*", 100).Result()
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

// Close releases the store. The underlying client is shared and stays open.
func (s *RedisStore) Close() error {
	return nil
}
