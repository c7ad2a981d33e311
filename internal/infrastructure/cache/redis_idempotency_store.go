package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces submission keys in shared stores
const DefaultKeyPrefix = "sentinel:submit:"

// RedisIdempotencyStore implements IdempotencyStore using Redis.
// Every gateway instance pointed at the same Redis shares duplicate detection.
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
	ownClient bool
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisIdempotencyStore connects to Redis and verifies it answers a PING
func NewRedisIdempotencyStore(cfg RedisConfig) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisIdempotencyStoreWithClient(client, cfg.KeyPrefix)
	store.ownClient = true
	return store, nil
}

// NewRedisIdempotencyStoreWithClient creates a store on an existing client.
// The client is left open by Close.
func NewRedisIdempotencyStoreWithClient(client *redis.Client, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Claim stores value under key with SETNX. When the key already exists the
// stored value is returned. A key that expires between the SETNX and the GET
// is claimed again.
func (s *RedisIdempotencyStore) Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, string, error) {
	fullKey := s.keyPrefix + key

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, fullKey, value, ttl).Result()
		if err != nil {
			return false, "", fmt.Errorf("failed to claim key: %w", err)
		}
		if ok {
			return true, "", nil
		}

		existing, err := s.client.Get(ctx, fullKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, "", fmt.Errorf("failed to read claimed key: %w", err)
		}
		return false, existing, nil
	}
	return false, "", fmt.Errorf("failed to claim key %q: expired during read", key)
}

// Release deletes key
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release key: %w", err)
	}
	return nil
}

// Client returns the underlying connection so other Redis-backed state can share it
func (s *RedisIdempotencyStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection when the store opened it
func (s *RedisIdempotencyStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
