/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects one instance to drive the periodic sweep when
// several replicas share a database.
package leadership

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_nowplaying/internal/telemetry"
)

const (
	electionKey = "mimir:leader:sweep"

	leaseDuration = 15 * time.Second
	retryInterval = 2 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Election maintains a Redis lease naming the sweeping instance. The client
// is shared with the rest of the process and is not closed here.
type Election struct {
	client     *redis.Client
	logger     zerolog.Logger
	instanceID string

	leader atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewElection creates an election participant on an existing Redis client.
func NewElection(client *redis.Client, logger zerolog.Logger) *Election {
	return &Election{
		client:     client,
		logger:     logger.With().Str("component", "leadership").Logger(),
		instanceID: uuid.NewString(),
		done:       make(chan struct{}),
	}
}

// Start begins campaigning in the background.
func (e *Election) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.logger.Info().
		Str("instance_id", e.instanceID).
		Dur("lease", leaseDuration).
		Msg("leader election started")

	go func() {
		defer close(e.done)

		e.campaign(ctx)

		ticker := time.NewTicker(retryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.campaign(ctx)
			}
		}
	}()
}

// Stop ends the campaign and releases the lease when held.
func (e *Election) Stop() error {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}

	if e.leader.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, e.client, []string{electionKey}, e.instanceID).Err(); err != nil {
			return fmt.Errorf("release sweep lease: %w", err)
		}
		e.setLeader(false)
	}
	return nil
}

// IsLeader reports whether this instance currently holds the sweep lease.
func (e *Election) IsLeader() bool {
	return e.leader.Load()
}

// campaign acquires or renews the lease once.
func (e *Election) campaign(ctx context.Context) {
	acquired, err := e.client.SetNX(ctx, electionKey, e.instanceID, leaseDuration).Result()
	if err != nil {
		e.logger.Warn().Err(err).Msg("sweep lease attempt failed")
		e.setLeader(false)
		return
	}
	if acquired {
		e.setLeader(true)
		return
	}

	holder, err := e.client.Get(ctx, electionKey).Result()
	if err == redis.Nil {
		// Lease expired between attempts; next tick retries.
		e.setLeader(false)
		return
	}
	if err != nil {
		e.logger.Warn().Err(err).Msg("sweep lease check failed")
		e.setLeader(false)
		return
	}

	if holder == e.instanceID {
		if err := e.client.Expire(ctx, electionKey, leaseDuration).Err(); err != nil {
			e.logger.Warn().Err(err).Msg("sweep lease renewal failed")
			e.setLeader(false)
			return
		}
		e.setLeader(true)
		return
	}

	e.setLeader(false)
}

func (e *Election) setLeader(leader bool) {
	if e.leader.Swap(leader) == leader {
		return
	}

	if leader {
		telemetry.LeaderStatus.Set(1)
		e.logger.Info().Str("instance_id", e.instanceID).Msg("acquired sweep leadership")
	} else {
		telemetry.LeaderStatus.Set(0)
		e.logger.Info().Str("instance_id", e.instanceID).Msg("lost sweep leadership")
	}
}
