package cache

import (
	"fmt"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Backend names accepted in idempotency.backend
const (
	BackendRedis  = "redis"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// IdempotencyStoreFactory creates idempotency stores based on configuration
type IdempotencyStoreFactory struct {
	cfg                   config.IdempotencyConfig
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// IdempotencyStoreFactoryOption is a functional option for configuring the factory
type IdempotencyStoreFactoryOption func(*IdempotencyStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to the
// in-memory store. Off by default.
func WithInMemoryFallback(allow bool) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewIdempotencyStoreFactory creates a new factory
func NewIdempotencyStoreFactory(cfg config.IdempotencyConfig, redisCfg config.RedisConfig, opts ...IdempotencyStoreFactoryOption) *IdempotencyStoreFactory {
	f := &IdempotencyStoreFactory{
		cfg:         cfg,
		redisConfig: redisCfg,
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateStore builds the configured backend
func (f *IdempotencyStoreFactory) CreateStore() (shared.IdempotencyStore, error) {
	switch f.cfg.Backend {
	case BackendRedis:
		store, err := NewRedisIdempotencyStore(RedisConfig{
			Addr:      f.redisConfig.Addr(),
			Password:  f.redisConfig.Password,
			DB:        f.redisConfig.DB,
			KeyPrefix: f.cfg.KeyPrefix,
		})
		if err == nil {
			f.logger.Info("using Redis idempotency store", zap.String("addr", f.redisConfig.Addr()))
			return store, nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("Redis required for idempotency but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store. "+
			"Duplicate submissions are only detected per instance.",
			zap.Error(err),
		)
		return NewInMemoryIdempotencyStore(), nil

	case BackendBadger:
		store, err := NewBadgerIdempotencyStore(BadgerConfig{
			Path:       f.cfg.BadgerPath,
			KeyPrefix:  f.cfg.KeyPrefix,
			GCInterval: 10 * time.Minute,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Badger idempotency store: %w", err)
		}
		f.logger.Info("using Badger idempotency store",
			zap.String("path", f.cfg.BadgerPath),
			zap.Bool("in_memory", f.cfg.BadgerPath == ""),
		)
		return store, nil

	case BackendMemory, "":
		f.logger.Info("using in-memory idempotency store")
		return NewInMemoryIdempotencyStore(), nil

	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", f.cfg.Backend)
	}
}
