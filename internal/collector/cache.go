package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CryptoBeacon/internal/logging"
	"CryptoBeacon/internal/model"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "forecastbench:bars"

// CachedFetcher decorates a Fetcher with a Redis cache of recent bar downloads.
// Cache errors are logged and fall through to the wrapped fetcher.
type CachedFetcher struct {
	inner  Fetcher
	client *redis.Client
	ttl    time.Duration
	log    *logging.Logger
}

// NewCachedFetcher connects to Redis and wraps inner.
func NewCachedFetcher(inner Fetcher, addr string, db int, password string, ttl time.Duration) (*CachedFetcher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewCachedFetcherWithClient(inner, client, ttl), nil
}

// NewCachedFetcherWithClient wraps inner using an existing Redis client.
func NewCachedFetcherWithClient(inner Fetcher, client *redis.Client, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{
		inner:  inner,
		client: client,
		ttl:    ttl,
		log:    logging.NewComponentLogger("collector.cache"),
	}
}

func (c *CachedFetcher) Name() string { return c.inner.Name() }

func (c *CachedFetcher) key(symbol string, days int) string {
	return fmt.Sprintf("%s:%s:%s:%d", cacheKeyPrefix, c.inner.Name(), symbol, days)
}

func (c *CachedFetcher) FetchDailyBars(ctx context.Context, symbol string, days int) ([]model.OHLCV, error) {
	key := c.key(symbol, days)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var bars []model.OHLCV
		if err := json.Unmarshal(data, &bars); err == nil {
			c.log.Debugf("Cache hit %s (%d bars)", key, len(bars))
			return bars, nil
		}
		c.log.Warnf("Discarding malformed cache entry %s", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warnf("Cache read %s failed: %v", key, err)
	}

	bars, err := c.inner.FetchDailyBars(ctx, symbol, days)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(bars); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warnf("Cache write %s failed: %v", key, err)
		}
	}
	return bars, nil
}

// Invalidate drops the cached download of symbol.
func (c *CachedFetcher) Invalidate(ctx context.Context, symbol string) error {
	pattern := fmt.Sprintf("%s:%s:%s:*", cacheKeyPrefix, c.inner.Name(), symbol)
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	c.log.Debugf("Invalidating %d cache entries for %s", len(keys), symbol)
	return c.client.Del(ctx, keys...).Err()
}

func (c *CachedFetcher) Close() error {
	return c.client.Close()
}
