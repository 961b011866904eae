// Package cache keeps expensive market lookups warm in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
)

// Config holds connection parameters for the stats cache.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// StatsCache stores computed sale statistics per (market, item). Sale
// history endpoints are the most rate-limited calls the markets offer, so
// computed stats stay warm between refresh jobs.
//
// A nil StatsCache is valid and always misses.
type StatsCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*StatsCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &StatsCache{rdb: rdb, ttl: cfg.TTL, logger: logger}, nil
}

func key(m market.Market, itemName string) string {
	return fmt.Sprintf("stats:%s:%s", m, itemName)
}

// Get returns the cached stats, or (nil, false) on a miss.
func (c *StatsCache) Get(ctx context.Context, m market.Market, itemName string) (*pricing.SaleStats, bool) {
	if c == nil {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, key(m, itemName)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("market", m.String()).Str("item", itemName).Msg("stats cache read failed")
		}
		return nil, false
	}

	var stats pricing.SaleStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		c.logger.Warn().Err(err).Str("item", itemName).Msg("stats cache entry corrupt, dropping")
		c.rdb.Del(ctx, key(m, itemName))
		return nil, false
	}
	return &stats, true
}

// Set stores the stats under the cache TTL. Cache failures are logged, not
// returned.
func (c *StatsCache) Set(ctx context.Context, m market.Market, itemName string, stats *pricing.SaleStats) {
	if c == nil || stats == nil {
		return
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(m, itemName), raw, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("market", m.String()).Str("item", itemName).Msg("stats cache write failed")
	}
}

// Close releases the connection pool.
func (c *StatsCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
