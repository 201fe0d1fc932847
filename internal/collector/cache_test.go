package collector

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedFetcher_HitAfterMiss(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	inner := &MockFetcher{Price: 100}
	c := NewCachedFetcherWithClient(inner, client, time.Hour)
	ctx := context.Background()

	first, err := c.FetchDailyBars(ctx, "BTC", 30)
	require.NoError(t, err)
	second, err := c.FetchDailyBars(ctx, "BTC", 30)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.Calls())
	require.Len(t, second, len(first))
	assert.True(t, first[0].Time.Equal(second[0].Time))
	assert.InDelta(t, first[29].Close, second[29].Close, 1e-9)
	assert.True(t, s.Exists("forecastbench:bars:mock:BTC:30"))
}

func TestCachedFetcher_Expires(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	inner := &MockFetcher{Price: 100}
	c := NewCachedFetcherWithClient(inner, client, time.Minute)
	ctx := context.Background()

	_, err := c.FetchDailyBars(ctx, "ETH", 10)
	require.NoError(t, err)
	s.FastForward(2 * time.Minute)
	_, err = c.FetchDailyBars(ctx, "ETH", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls())
}

func TestCachedFetcher_FallsThroughWhenRedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	inner := &MockFetcher{Price: 100}
	c := NewCachedFetcherWithClient(inner, client, time.Minute)
	bars, err := c.FetchDailyBars(context.Background(), "BTC", 5)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
	assert.Equal(t, 1, inner.Calls())
}

func TestCachedFetcher_Invalidate(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	inner := &MockFetcher{Price: 100}
	c := NewCachedFetcherWithClient(inner, client, time.Hour)
	ctx := context.Background()

	for _, req := range []struct {
		symbol string
		days   int
	}{{"BTC", 5}, {"BTC", 10}, {"ETH", 5}} {
		_, err := c.FetchDailyBars(ctx, req.symbol, req.days)
		require.NoError(t, err)
	}
	require.Len(t, s.Keys(), 3)

	require.NoError(t, c.Invalidate(ctx, "BTC"))
	keys := s.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], ":ETH:")

	_, err := c.FetchDailyBars(ctx, "BTC", 5)
	require.NoError(t, err)
	assert.Equal(t, 4, inner.Calls())

	require.NoError(t, c.Invalidate(ctx, "SOL"), "nothing cached is not an error")
}

func TestLoader_Refresh(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	ctx := context.Background()

	inner := &MockFetcher{Price: 100}
	l := NewLoader(NewCachedFetcherWithClient(inner, client, time.Hour), 24*time.Hour, 0)
	_, err := l.Load(ctx, "BTC", 30, 10)
	require.NoError(t, err)
	require.NotEmpty(t, s.Keys())

	cached, err := l.Refresh(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Empty(t, s.Keys())

	cached, err = NewLoader(inner, 24*time.Hour, 0).Refresh(ctx, "BTC")
	require.NoError(t, err)
	assert.False(t, cached)
}
