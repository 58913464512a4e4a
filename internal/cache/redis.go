package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the Redis backend. Expiry is delegated to the key TTL.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore stores key under the given client.
func NewRedisStore(client *redis.Client, key, baseURL string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("support-sync:%s:%s", sanitizeKey(key), serverHash(baseURL)),
		ttl:    ttl,
	}
}

// DialRedis parses a redis:// URL and checks the server answers.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

// Key returns the Redis key used by the store.
func (s *RedisStore) Key() string { return s.key }

// Get loads the cached value into dst.
func (s *RedisStore) Get(ctx context.Context, dst any) bool {
	if disabled() {
		return false
	}
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		return false
	}
	// TTL already enforced by Redis
	return decodeEntry(data, dst, 0, time.Now())
}

// Put writes v with the store TTL.
func (s *RedisStore) Put(ctx context.Context, v any) error {
	if disabled() {
		return nil
	}
	data, err := encodeEntry(v, time.Now())
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, s.ttl).Err()
}

// Clear deletes the key.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
