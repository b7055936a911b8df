package invalidation

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

type payload struct {
	Net string `json:"net"`
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (interface{}, error) {
		calls++
		return payload{Net: "80"}, nil
	}

	key, err := cache.Key(ctx, 7, books.StatementIncome, "2024")
	require.NoError(t, err)
	require.Equal(t, "rentalbooks:income_statement:7:2024:v1", key)

	var got payload
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, "80", got.Net)
	if calls != 1 {
		t.Fatalf("expected loader once, got %d", calls)
	}

	ver, err := cache.BumpProperty(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(2), ver)

	key, err = cache.Key(ctx, 7, books.StatementIncome, "2024")
	require.NoError(t, err)
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 2, calls)

	other, err := cache.Version(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, int64(1), other, "bumps are scoped to one property")
}

func TestNilCacheCallsLoader(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	key, err := cache.Key(ctx, 1, books.StatementBalance, "2023")
	require.NoError(t, err)
	require.Equal(t, "rentalbooks:balance_sheet:1:2023", key)

	var got payload
	require.NoError(t, cache.FetchJSON(ctx, key, &got, func(context.Context) (interface{}, error) {
		return payload{Net: "1"}, nil
	}))
	require.Equal(t, "1", got.Net)

	_, err = cache.BumpProperty(ctx, 1)
	require.NoError(t, err)
	require.Error(t, cache.FetchJSON(ctx, key, &got, nil))
}

func TestFetchJSONLoaderError(t *testing.T) {
	cache, mr := newTestCache(t)
	boom := errors.New("boom")
	err := cache.FetchJSON(context.Background(), "k", &payload{}, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("k"))
}

func TestSubscribeReceivesBumps(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Bump, 1)
	require.NoError(t, cache.Subscribe(ctx, func(b Bump) { got <- b }))
	_, err := cache.BumpProperty(ctx, 42)
	require.NoError(t, err)

	select {
	case b := <-got:
		require.Equal(t, int64(42), b.PropertyID)
		require.Equal(t, int64(2), b.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("bump not delivered")
	}
}
