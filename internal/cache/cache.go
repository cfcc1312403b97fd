/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for the aggregate
// nowplaying snapshot list.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_nowplaying/internal/nowplaying"
)

// DefaultNowPlayingTTL keeps the aggregate entry short-lived: one stale
// sweep's worth at most.
const DefaultNowPlayingTTL = 120 * time.Second

// KeyNowPlaying is the Redis key of the aggregate snapshot list.
const KeyNowPlaying = "mimir:cache:nowplaying"

// Config contains cache configuration.
type Config struct {
	NowPlayingTTL time.Duration

	// DisableOnError disables caching on Redis errors (circuit breaker).
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		NowPlayingTTL:  DefaultNowPlayingTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a cache around an existing Redis client. A nil client yields a
// disabled cache whose operations are no-ops.
func New(client *redis.Client, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.NowPlayingTTL <= 0 {
		cfg.NowPlayingTTL = DefaultNowPlayingTTL
	}

	c := &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}
	if client == nil {
		c.disabled = true
		c.logger.Warn().Msg("Redis cache unavailable, running without caching")
	}
	return c
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// SetNowPlaying caches the aggregate snapshot list.
func (c *Cache) SetNowPlaying(ctx context.Context, snapshots []*nowplaying.Snapshot) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("marshal cached nowplaying: %w", err)
	}

	if err := c.client.Set(ctx, KeyNowPlaying, data, c.config.NowPlayingTTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	c.logger.Debug().Int("count", len(snapshots)).Msg("cached aggregate nowplaying")
	return nil
}

// GetNowPlaying retrieves the cached aggregate snapshot list.
func (c *Cache) GetNowPlaying(ctx context.Context) ([]*nowplaying.Snapshot, bool) {
	if !c.IsAvailable() {
		return nil, false
	}

	data, err := c.client.Get(ctx, KeyNowPlaying).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.handleError(err, "get")
		return nil, false
	}

	var snapshots []*nowplaying.Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		c.logger.Debug().Err(err).Msg("failed to unmarshal cached nowplaying")
		return nil, false
	}

	c.logger.Debug().Int("count", len(snapshots)).Msg("nowplaying cache hit")
	return snapshots, true
}

// Invalidate removes the aggregate entry.
func (c *Cache) Invalidate(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, KeyNowPlaying).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}
