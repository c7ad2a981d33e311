package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList remembers tokens revoked before they expire, e.g. on logout
type RevocationList interface {
	// Revoke blocks the token with the given JTI for ttl, normally its remaining lifetime
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevocationList shares revocations between instances
type RedisRevocationList struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRevocationList creates a revocation list on an existing client
func NewRedisRevocationList(client *redis.Client, keyPrefix string) *RedisRevocationList {
	if keyPrefix == "" {
		keyPrefix = "sentinel:revoked:"
	}
	return &RedisRevocationList{client: client, keyPrefix: keyPrefix}
}

// Revoke stores the JTI with a TTL
func (l *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := l.client.Set(ctx, l.keyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked checks whether the JTI is stored
func (l *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.client.Exists(ctx, l.keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}

// InMemoryRevocationList keeps revocations in this process only
type InMemoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time // jti -> expiry
}

// NewInMemoryRevocationList creates an empty list
func NewInMemoryRevocationList() *InMemoryRevocationList {
	return &InMemoryRevocationList{revoked: make(map[string]time.Time)}
}

// Revoke records the JTI until ttl elapses
func (l *InMemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for id, exp := range l.revoked {
		if now.After(exp) {
			delete(l.revoked, id)
		}
	}
	l.revoked[jti] = now.Add(ttl)
	return nil
}

// IsRevoked reports whether the JTI is revoked and not yet expired
func (l *InMemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.revoked[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(l.revoked, jti)
		return false, nil
	}
	return true, nil
}

var (
	_ RevocationList = (*RedisRevocationList)(nil)
	_ RevocationList = (*InMemoryRevocationList)(nil)
)
