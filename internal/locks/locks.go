/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package locks provides named, TTL-bounded mutual exclusion used to
// serialize nowplaying updates per station. Locks are backed by Redis when
// available so multiple instances coordinate; a single-process in-memory
// implementation carries the same semantics for tests and degraded mode.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultTTL bounds worst-case staleness if a holder crashes: after this
	// the lock is considered abandoned and reusable regardless of holder state.
	DefaultTTL = 600 * time.Second

	// DefaultPollInterval is how often a blocked Acquire retries.
	DefaultPollInterval = 250 * time.Millisecond

	keyPrefix = "mimir:lock:"
)

// ErrNotAcquired is returned by TryAcquire when the lock is held elsewhere.
var ErrNotAcquired = errors.New("locks: not acquired")

// StationLockName returns the lock name serializing updates for one station.
func StationLockName(stationID string) string {
	return "nowplaying_station_" + stationID
}

// Lock is a held mutual-exclusion handle.
type Lock struct {
	Name      string
	token     string
	ExpiresAt time.Time
}

// Manager hands out named TTL locks.
type Manager interface {
	// Acquire blocks until the lock is free, bounded by the prior holder's
	// TTL expiry and the caller's context.
	Acquire(ctx context.Context, name string) (*Lock, error)

	// TryAcquire returns ErrNotAcquired immediately on contention.
	TryAcquire(ctx context.Context, name string) (*Lock, error)

	// Release frees the lock. Safe to call with an already-expired lock.
	Release(ctx context.Context, lock *Lock) error
}

// New returns a Redis-backed manager, or the in-memory manager when client
// is nil.
func New(client *redis.Client, logger zerolog.Logger) Manager {
	if client == nil {
		logger.Warn().Msg("station locks running in-process only")
		return NewMemoryManager(DefaultTTL, DefaultPollInterval)
	}
	return NewRedisManager(client, logger, DefaultTTL, DefaultPollInterval)
}

// RedisManager implements Manager on Redis SETNX with per-holder tokens.
type RedisManager struct {
	client *redis.Client
	logger zerolog.Logger
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisManager creates a Redis-backed lock manager.
func NewRedisManager(client *redis.Client, logger zerolog.Logger, ttl, poll time.Duration) *RedisManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &RedisManager{
		client: client,
		logger: logger.With().Str("component", "locks").Logger(),
		ttl:    ttl,
		poll:   poll,
	}
}

// TryAcquire attempts a single non-blocking acquisition.
func (m *RedisManager) TryAcquire(ctx context.Context, name string) (*Lock, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, keyPrefix+name, token, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{Name: name, token: token, ExpiresAt: time.Now().Add(m.ttl)}, nil
}

// Acquire blocks until acquisition succeeds. The wait is bounded by the TTL
// of whoever holds the lock now: once their lease lapses the key expires and
// the next poll wins.
func (m *RedisManager) Acquire(ctx context.Context, name string) (*Lock, error) {
	deadline := time.Now().Add(m.ttl + m.poll)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		lock, err := m.TryAcquire(ctx, name)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire lock %s: wait exceeded lock TTL", name)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release deletes the lock only if we still hold it, so an expired lock that
// was re-acquired elsewhere is never clobbered.
func (m *RedisManager) Release(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	if err := m.client.Eval(ctx, script, []string{keyPrefix + lock.Name}, lock.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", lock.Name, err)
	}
	return nil
}

// MemoryManager implements Manager with an in-process table. TTL semantics
// match the Redis manager: expired entries count as free.
type MemoryManager struct {
	mu    sync.Mutex
	held  map[string]memEntry
	ttl   time.Duration
	poll  time.Duration
	clock func() time.Time
}

type memEntry struct {
	token     string
	expiresAt time.Time
}

// NewMemoryManager creates an in-memory lock manager.
func NewMemoryManager(ttl, poll time.Duration) *MemoryManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &MemoryManager{
		held:  make(map[string]memEntry),
		ttl:   ttl,
		poll:  poll,
		clock: time.Now,
	}
}

// TryAcquire attempts a single non-blocking acquisition.
func (m *MemoryManager) TryAcquire(_ context.Context, name string) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if entry, ok := m.held[name]; ok && entry.expiresAt.After(now) {
		return nil, ErrNotAcquired
	}

	token := uuid.NewString()
	m.held[name] = memEntry{token: token, expiresAt: now.Add(m.ttl)}
	return &Lock{Name: name, token: token, ExpiresAt: now.Add(m.ttl)}, nil
}

// Acquire blocks until acquisition succeeds, bounded by the holder's TTL.
func (m *MemoryManager) Acquire(ctx context.Context, name string) (*Lock, error) {
	deadline := m.clock().Add(m.ttl + m.poll)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		lock, err := m.TryAcquire(ctx, name)
		if err == nil {
			return lock, nil
		}

		if m.clock().After(deadline) {
			return nil, fmt.Errorf("acquire lock %s: wait exceeded lock TTL", name)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release frees the lock if the caller still holds it.
func (m *MemoryManager) Release(_ context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.held[lock.Name]; ok && entry.token == lock.token {
		delete(m.held, lock.Name)
	}
	return nil
}
