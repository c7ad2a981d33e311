package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// claimContract exercises the behaviour every backend must share
func claimContract(t *testing.T, store shared.IdempotencyStore) {
	ctx := context.Background()

	t.Run("first claim wins", func(t *testing.T) {
		ok, existing, err := store.Claim(ctx, "EPIC|MSG001", "msg-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, existing)
	})

	t.Run("second claim sees the first value", func(t *testing.T) {
		ok, existing, err := store.Claim(ctx, "EPIC|MSG001", "msg-2", time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "msg-1", existing)
	})

	t.Run("release frees the key", func(t *testing.T) {
		require.NoError(t, store.Release(ctx, "EPIC|MSG001"))
		ok, _, err := store.Claim(ctx, "EPIC|MSG001", "msg-3", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("releasing an unknown key is not an error", func(t *testing.T) {
		assert.NoError(t, store.Release(ctx, "never-claimed"))
	})

	t.Run("concurrent claimants get exactly one winner", func(t *testing.T) {
		const n = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, _, err := store.Claim(ctx, "race", "v", time.Hour)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestInMemoryIdempotencyStore_Contract(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	claimContract(t, store)
}

func TestInMemoryIdempotencyStore_Expiry(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	ok, _, err := store.Claim(ctx, "short", "a", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, existing, err := store.Claim(ctx, "short", "b", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim should be replaceable")
	assert.Empty(t, existing)
}

func TestInMemoryIdempotencyStore_Cleanup(t *testing.T) {
	store := newInMemoryIdempotencyStore(10 * time.Millisecond)
	defer store.Close()
	ctx := context.Background()

	_, _, err := store.Claim(ctx, "a", "1", 5*time.Millisecond)
	require.NoError(t, err)
	_, _, err = store.Claim(ctx, "b", "2", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Size())

	assert.Eventually(t, func() bool { return store.Size() == 1 }, time.Second, 10*time.Millisecond)
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
