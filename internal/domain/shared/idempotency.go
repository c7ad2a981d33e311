package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys that were already accepted so that a
// resubmitted message is not enqueued twice.
type IdempotencyStore interface {
	// Claim records key with value for ttl.
	// Returns (true, "") if the key was newly claimed, or (false, existing)
	// with the value stored by the first claimant.
	Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, string, error)

	// Release forgets a key, used when the claimant failed to finish its work
	Release(ctx context.Context, key string) error

	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long an accepted key blocks resubmission
	// Default: 24 hours
	TTL time.Duration

	// Default: true
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
