/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dispatch delivers messages after a fixed delay. The Redis
// implementation stores pending messages in a sorted set scored by due time
// and polls for due entries, giving at-least-once delivery across instances;
// consumers must be idempotent. Without Redis an in-process timer
// implementation carries the same contract for a single node.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	queueKey = "mimir:dispatch:nowplaying"

	defaultPollInterval = 250 * time.Millisecond
	popBatchSize        = 25
)

// Message names a station whose nowplaying state should be re-checked.
type Message struct {
	ID        string    `json:"id"`
	StationID string    `json:"station_id"`
	DueAt     time.Time `json:"due_at"`
}

// Handler consumes delivered messages.
type Handler func(ctx context.Context, msg Message)

// Dispatcher sends and delivers delayed messages.
type Dispatcher interface {
	// Send enqueues msg for delivery after delay.
	Send(ctx context.Context, msg Message, delay time.Duration) error

	// Start begins delivering due messages to handler until ctx is cancelled.
	Start(ctx context.Context, handler Handler)

	// Close stops delivery.
	Close() error
}

// New returns a Redis-backed dispatcher, or the in-memory dispatcher when
// client is nil.
func New(client *redis.Client, logger zerolog.Logger) Dispatcher {
	if client == nil {
		logger.Warn().Msg("delayed dispatch running in-process only")
		return NewMemoryDispatcher()
	}
	return NewRedisDispatcher(client, logger)
}

// RedisDispatcher implements Dispatcher on a Redis sorted set.
type RedisDispatcher struct {
	client *redis.Client
	logger zerolog.Logger
	poll   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisDispatcher creates a Redis-backed dispatcher.
func NewRedisDispatcher(client *redis.Client, logger zerolog.Logger) *RedisDispatcher {
	return &RedisDispatcher{
		client: client,
		logger: logger.With().Str("component", "dispatch").Logger(),
		poll:   defaultPollInterval,
	}
}

// Send enqueues msg for delivery after delay.
func (d *RedisDispatcher) Send(ctx context.Context, msg Message, delay time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.DueAt = time.Now().Add(delay)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dispatch message: %w", err)
	}

	if err := d.client.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(msg.DueAt.UnixMilli()),
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue dispatch message: %w", err)
	}
	return nil
}

// popDueScript atomically removes and returns due members so two pollers
// never deliver the same message twice.
const popDueScript = `
	local due = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
	for _, member in ipairs(due) do
		redis.call("zrem", KEYS[1], member)
	end
	return due
`

// Start begins the poll loop delivering due messages.
func (d *RedisDispatcher) Start(ctx context.Context, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.poll)
		defer ticker.Stop()

		d.logger.Info().Msg("delayed dispatch poller started")

		for {
			select {
			case <-ctx.Done():
				d.logger.Info().Msg("delayed dispatch poller stopped")
				return
			case <-ticker.C:
				d.deliverDue(ctx, handler)
			}
		}
	}()
}

func (d *RedisDispatcher) deliverDue(ctx context.Context, handler Handler) {
	now := time.Now().UnixMilli()

	raw, err := d.client.Eval(ctx, popDueScript, []string{queueKey}, now, popBatchSize).StringSlice()
	if err != nil && err != redis.Nil {
		d.logger.Warn().Err(err).Msg("failed to pop due dispatch messages")
		return
	}

	for _, member := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			d.logger.Error().Err(err).Msg("dropping malformed dispatch message")
			continue
		}
		handler(ctx, msg)
	}
}

// Close stops the poll loop.
func (d *RedisDispatcher) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	return nil
}

// MemoryDispatcher implements Dispatcher with in-process timers.
type MemoryDispatcher struct {
	mu      sync.Mutex
	handler Handler
	ctx     context.Context
	timers  map[string]*time.Timer
	pending []pendingMessage
	closed  bool
}

type pendingMessage struct {
	msg   Message
	delay time.Duration
}

// NewMemoryDispatcher creates an in-process dispatcher.
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{timers: make(map[string]*time.Timer)}
}

// Send schedules msg for delivery after delay. Messages sent before Start
// are held and scheduled once a handler is registered.
func (m *MemoryDispatcher) Send(_ context.Context, msg Message, delay time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.DueAt = time.Now().Add(delay)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("dispatcher closed")
	}

	if m.handler == nil {
		m.pending = append(m.pending, pendingMessage{msg: msg, delay: delay})
		return nil
	}

	m.schedule(msg, delay)
	return nil
}

// schedule must be called with m.mu held.
func (m *MemoryDispatcher) schedule(msg Message, delay time.Duration) {
	m.timers[msg.ID] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		handler := m.handler
		ctx := m.ctx
		delete(m.timers, msg.ID)
		closed := m.closed
		m.mu.Unlock()

		if closed || handler == nil || ctx == nil || ctx.Err() != nil {
			return
		}
		handler(ctx, msg)
	})
}

// Start registers the handler and schedules any held messages.
func (m *MemoryDispatcher) Start(ctx context.Context, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = handler
	m.ctx = ctx

	for _, p := range m.pending {
		remaining := time.Until(p.msg.DueAt)
		if remaining < 0 {
			remaining = 0
		}
		m.schedule(p.msg, remaining)
	}
	m.pending = nil
}

// Close cancels all outstanding timers.
func (m *MemoryDispatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
	return nil
}
