package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueryCache_GetSet(t *testing.T) {
	cache := NewInMemoryQueryCache()
	defer cache.Close()

	ctx := context.Background()

	// Test cache miss
	entry, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, cache.Set(ctx, "k", []byte(`{"id":1}`), time.Minute))

	entry, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.JSONEq(t, `{"id":1}`, string(entry.Value))
	assert.False(t, entry.Stale)

	hits, misses := cache.GetStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestInMemoryQueryCache_Expiry(t *testing.T) {
	cache := NewInMemoryQueryCache()
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", []byte(`1`), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	entry, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestInMemoryQueryCache_Update(t *testing.T) {
	cache := NewInMemoryQueryCache()
	defer cache.Close()

	ctx := context.Background()

	t.Run("miss is a no-op", func(t *testing.T) {
		called := false
		ok, err := cache.Update(ctx, "missing", func(current []byte) ([]byte, error) {
			called = true
			return current, nil
		})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, called)
	})

	t.Run("rewrites existing value", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "k", []byte(`1`), time.Minute))

		ok, err := cache.Update(ctx, "k", func(current []byte) ([]byte, error) {
			assert.Equal(t, "1", string(current))
			return []byte(`2`), nil
		})
		require.NoError(t, err)
		assert.True(t, ok)

		entry, err := cache.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "2", string(entry.Value))
	})

	t.Run("skip leaves value", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "s", []byte(`1`), time.Minute))

		ok, err := cache.Update(ctx, "s", func([]byte) ([]byte, error) {
			return nil, ErrSkipUpdate
		})
		require.NoError(t, err)
		assert.False(t, ok)

		entry, err := cache.Get(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, "1", string(entry.Value))
	})

	t.Run("error propagates", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "e", []byte(`1`), time.Minute))
		boom := errors.New("boom")

		_, err := cache.Update(ctx, "e", func([]byte) ([]byte, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestInMemoryQueryCache_Invalidate(t *testing.T) {
	cache := NewInMemoryQueryCache()
	defer cache.Close()

	ctx := context.Background()

	// Missing keys are ignored
	require.NoError(t, cache.Invalidate(ctx, "missing"))
	entry, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, cache.Set(ctx, "k", []byte(`{"id":101}`), time.Minute))
	require.NoError(t, cache.Invalidate(ctx, "k"))

	entry, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry, "invalidation must not clear the value")
	assert.True(t, entry.Stale)
	assert.JSONEq(t, `{"id":101}`, string(entry.Value))

	// A fresh Set clears the stale mark
	require.NoError(t, cache.Set(ctx, "k", []byte(`{"id":102}`), time.Minute))
	entry, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, entry.Stale)
}

func TestInMemoryQueryCache_Delete(t *testing.T) {
	cache := NewInMemoryQueryCache()
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", []byte(`1`), time.Minute))
	require.NoError(t, cache.Delete(ctx, "k"))

	entry, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, 0, cache.Count())
}

func TestInMemoryQueryCache_Cleanup(t *testing.T) {
	cache := NewInMemoryQueryCache(WithInMemoryConfig(QueryCacheConfig{
		DefaultTTL:      time.Minute,
		CleanupInterval: 10 * time.Millisecond,
	}))
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "short", []byte(`1`), 5*time.Millisecond))
	require.NoError(t, cache.Set(ctx, "long", []byte(`1`), time.Minute))

	assert.Eventually(t, func() bool {
		return cache.Count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestInMemoryQueryCache_CloseIsIdempotent(t *testing.T) {
	cache := NewInMemoryQueryCache()
	assert.NoError(t, cache.Close())
	assert.NoError(t, cache.Close())
}

func TestTypedHelpers(t *testing.T) {
	cache := NewInMemoryQueryCache()
	defer cache.Close()

	ctx := context.Background()
	key := bpc.StatusCacheKey

	record, stale, err := GetAs[bpc.StatusRecord](ctx, cache, key)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.False(t, stale)

	require.NoError(t, SetAs(ctx, cache, key, &bpc.StatusRecord{
		ID:            1,
		BpcStatusID:   1,
		BordereauName: "Q1 property",
	}, 0))

	ok, err := UpdateAs(ctx, cache, key, func(r *bpc.StatusRecord) error {
		r.MergeStatus(bpc.Status{ID: 5, Name: "Paused"})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)

	record, _, err = GetAs[bpc.StatusRecord](ctx, cache, key)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(5), record.BpcStatusID)
	assert.Equal(t, "Paused", record.BpcStatus.Name)
	assert.Equal(t, "Q1 property", record.BordereauName)
}

func TestFetch(t *testing.T) {
	cache := NewInMemoryQueryCache()
	defer cache.Close()

	ctx := context.Background()
	key := bpc.BordereauCacheKey(7)
	loads := 0
	load := func(context.Context) (*bpc.Bordereau, error) {
		loads++
		return &bpc.Bordereau{ID: int64(100 + loads)}, nil
	}

	b, err := Fetch(ctx, cache, key, time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, int64(101), b.ID)

	// Fresh entry is served from cache
	b, err = Fetch(ctx, cache, key, time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, int64(101), b.ID)
	assert.Equal(t, 1, loads)

	// Stale entry triggers a refetch
	require.NoError(t, cache.Invalidate(ctx, key))
	b, err = Fetch(ctx, cache, key, time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, int64(102), b.ID)
	assert.Equal(t, 2, loads)

	_, stale, err := GetAs[bpc.Bordereau](ctx, cache, key)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestFetch_LoadError(t *testing.T) {
	cache := NewInMemoryQueryCache()
	defer cache.Close()

	boom := errors.New("core api down")
	_, err := Fetch(context.Background(), cache, "k", 0, func(context.Context) (*bpc.Bordereau, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}
