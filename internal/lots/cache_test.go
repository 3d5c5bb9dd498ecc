package lots

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) (*PickOrderCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPickOrderCache(client, 30*time.Second), mr
}

func fefoFixture() []LotBalance {
	return []LotBalance{
		{Lot: Lot{ID: 1, TenantID: 1, ProductID: 10, LocationID: 1, LotNumber: "B-001"}, Balance: decimal.NewFromInt(5)},
		{Lot: Lot{ID: 2, TenantID: 1, ProductID: 10, LocationID: 1, LotNumber: "B-002"}, Balance: decimal.NewFromInt(12)},
	}
}

func TestPickOrderCacheServesSecondReadFromRedis(t *testing.T) {
	cache, _ := testCache(t)
	calls := 0
	loader := func(ctx context.Context) ([]LotBalance, error) {
		calls++
		return fefoFixture(), nil
	}

	first, err := cache.Fetch(context.Background(), 1, 10, 1, loader)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, 1, calls)

	second, err := cache.Fetch(context.Background(), 1, 10, 1, loader)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second read must hit the cache")
	require.Equal(t, "B-001", second[0].Lot.LotNumber)
	require.True(t, second[0].Balance.Equal(decimal.NewFromInt(5)))
}

func TestPickOrderCacheInvalidateForcesReload(t *testing.T) {
	cache, _ := testCache(t)
	calls := 0
	loader := func(ctx context.Context) ([]LotBalance, error) {
		calls++
		return fefoFixture(), nil
	}

	_, err := cache.Fetch(context.Background(), 1, 10, 1, loader)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(context.Background(), 1, 10, 1))

	_, err = cache.Fetch(context.Background(), 1, 10, 1, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestPickOrderCacheKeysAreIndependent(t *testing.T) {
	cache, _ := testCache(t)
	calls := 0
	loader := func(ctx context.Context) ([]LotBalance, error) {
		calls++
		return fefoFixture(), nil
	}

	_, err := cache.Fetch(context.Background(), 1, 10, 1, loader)
	require.NoError(t, err)
	_, err = cache.Fetch(context.Background(), 1, 10, 2, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestPickOrderCacheEntriesExpire(t *testing.T) {
	cache, mr := testCache(t)
	calls := 0
	loader := func(ctx context.Context) ([]LotBalance, error) {
		calls++
		return fefoFixture(), nil
	}

	_, err := cache.Fetch(context.Background(), 1, 10, 1, loader)
	require.NoError(t, err)
	mr.FastForward(time.Minute)

	_, err = cache.Fetch(context.Background(), 1, 10, 1, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestNilCacheFallsThroughToLoader(t *testing.T) {
	var cache *PickOrderCache
	calls := 0
	loader := func(ctx context.Context) ([]LotBalance, error) {
		calls++
		return fefoFixture(), nil
	}

	order, err := cache.Fetch(context.Background(), 1, 10, 1, loader)
	require.NoError(t, err)
	require.Len(t, order, 2)
	require.Equal(t, 1, calls)
}
