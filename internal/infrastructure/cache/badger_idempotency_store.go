package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"go.uber.org/zap"
)

// BadgerConfig configures the embedded claim store
type BadgerConfig struct {
	// Path is the data directory; empty keeps the database in memory
	Path           string
	KeyPrefix      string
	SyncWrites     bool
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// BadgerIdempotencyStore keeps claims in an embedded BadgerDB so a single
// gateway instance remembers submissions across restarts without Redis.
// Expiry is delegated to Badger's per-entry TTL.
type BadgerIdempotencyStore struct {
	db        *badger.DB
	keyPrefix []byte
	logger    *zap.Logger

	gcInterval time.Duration
	gcRatio    float64
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// badgerLogger routes Badger's internal logging into zap
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// NewBadgerIdempotencyStore opens the database described by cfg
func NewBadgerIdempotencyStore(cfg BadgerConfig, logger *zap.Logger) (*BadgerIdempotencyStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("badger")

	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ratio := cfg.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}

	s := &BadgerIdempotencyStore{
		db:         db,
		keyPrefix:  []byte(prefix),
		logger:     logger,
		gcInterval: cfg.GCInterval,
		gcRatio:    ratio,
		stopCh:     make(chan struct{}),
	}

	// value log GC has nothing to reclaim in memory
	if cfg.Path != "" && cfg.GCInterval > 0 {
		s.wg.Add(1)
		go s.gcLoop()
	}

	return s, nil
}

func (s *BadgerIdempotencyStore) key(k string) []byte {
	out := make([]byte, 0, len(s.keyPrefix)+len(k))
	out = append(out, s.keyPrefix...)
	return append(out, k...)
}

// Claim writes value under key in a read-write transaction. Concurrent
// claimants of one key conflict on commit; the loser retries and then sees
// the winner's value.
func (s *BadgerIdempotencyStore) Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, string, error) {
	k := s.key(key)

	for {
		if err := ctx.Err(); err != nil {
			return false, "", err
		}

		var (
			claimed  bool
			existing string
		)
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(k)
			switch {
			case err == nil:
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				existing = string(v)
				return nil
			case errors.Is(err, badger.ErrKeyNotFound):
				claimed = true
				return txn.SetEntry(badger.NewEntry(k, []byte(value)).WithTTL(ttl))
			default:
				return err
			}
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, "", fmt.Errorf("failed to claim key: %w", err)
		}
		return claimed, existing, nil
	}
}

// Release deletes key
func (s *BadgerIdempotencyStore) Release(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	if err != nil {
		return fmt.Errorf("failed to release key: %w", err)
	}
	return nil
}

// Close stops the GC loop and closes the database
func (s *BadgerIdempotencyStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *BadgerIdempotencyStore) gcLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(s.gcRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log GC failed", zap.Error(err))
			}
		}
	}
}

var _ shared.IdempotencyStore = (*BadgerIdempotencyStore)(nil)
