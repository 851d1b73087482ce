/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package urlcache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Key prefix for resolved URL entries.
const keyResolvedURL = "bragi:cache:resolved:" // + track_id

// RedisConfig contains Redis store configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// If true, fall back to the in-process store after a Redis error.
	DisableOnError bool
}

// Redis is a Store backed by Redis with native TTL expiry. When Redis is
// unreachable at startup or trips the circuit breaker, entries are served
// from an in-process fallback so playback keeps working on a single node.
type Redis struct {
	client   *redis.Client
	fallback *Memory
	logger   zerolog.Logger
	config   RedisConfig

	mu       sync.RWMutex
	disabled bool
}

// NewRedis creates a Redis-backed store.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) *Redis {
	store := &Redis{
		fallback: NewMemory(),
		logger:   logger.With().Str("component", "urlcache").Logger(),
		config:   cfg,
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		store.logger.Warn().Err(err).Msg("Redis unavailable, using in-process URL cache")
		store.disabled = true
		return store
	}

	store.client = client
	store.logger.Info().Str("addr", cfg.Addr).Msg("Redis URL cache initialized")
	return store
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Redis) available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.disabled && r.client != nil
}

func (r *Redis) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}
	r.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")
	if r.config.DisableOnError {
		r.mu.Lock()
		r.disabled = true
		r.mu.Unlock()
		r.logger.Warn().Msg("disabling Redis URL cache, falling back to in-process store")
	}
}

func (r *Redis) Get(ctx context.Context, trackID string) (string, bool) {
	if !r.available() {
		return r.fallback.Get(ctx, trackID)
	}
	url, err := r.client.Get(ctx, keyResolvedURL+trackID).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		r.handleError(err, "get")
		return r.fallback.Get(ctx, trackID)
	}
	return url, true
}

func (r *Redis) Put(ctx context.Context, trackID, url string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if !r.available() {
		return r.fallback.Put(ctx, trackID, url, ttl)
	}
	if err := r.client.Set(ctx, keyResolvedURL+trackID, url, ttl).Err(); err != nil {
		r.handleError(err, "put")
		return r.fallback.Put(ctx, trackID, url, ttl)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, trackID string) error {
	// Always clear the fallback so a tripped breaker cannot resurrect a
	// rejected URL.
	_ = r.fallback.Invalidate(ctx, trackID)
	if !r.available() {
		return nil
	}
	if err := r.client.Del(ctx, keyResolvedURL+trackID).Err(); err != nil {
		r.handleError(err, "invalidate")
		return err
	}
	return nil
}
