/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package nowplaying

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/events"
	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/telemetry"
)

// AggregateCache stores the multi-station snapshot list under a short TTL.
type AggregateCache interface {
	SetNowPlaying(ctx context.Context, snapshots []*Snapshot) error
}

// SettingsWriter persists the aggregate snapshot list durably.
type SettingsWriter interface {
	WriteNowPlaying(ctx context.Context, snapshots []*Snapshot) error
}

// LeaderGate reports whether this instance should run periodic sweeps.
// Replicas without the lease keep serving reads and deferred re-checks.
type LeaderGate interface {
	IsLeader() bool
}

// Sweeper iterates all enabled stations, updates each, and publishes the
// aggregate snapshot list to cache and settings.
type Sweeper struct {
	db       *gorm.DB
	updater  *Updater
	cache    AggregateCache
	settings SettingsWriter
	bus      *events.Bus
	interval time.Duration
	gate     LeaderGate
	logger   zerolog.Logger
}

// NewSweeper creates the sweep driver.
func NewSweeper(db *gorm.DB, updater *Updater, cache AggregateCache, settings SettingsWriter, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{
		db:       db,
		updater:  updater,
		cache:    cache,
		settings: settings,
		bus:      bus,
		interval: interval,
		logger:   logger.With().Str("component", "sweep").Logger(),
	}
}

// SetLeaderGate restricts periodic sweeps to the elected instance. Without a
// gate every instance sweeps.
func (s *Sweeper) SetLeaderGate(gate LeaderGate) {
	s.gate = gate
}

// Start runs the periodic sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("nowplaying sweep loop started")

	// Sweep once immediately so data appears quickly after startup.
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("nowplaying sweep loop stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one gated periodic pass.
func (s *Sweeper) sweep(ctx context.Context) {
	if s.gate != nil && !s.gate.IsLeader() {
		return
	}
	s.Run(ctx, false)
}

// Run performs one sweep over all enabled stations. One station's failure is
// logged and skipped; the rest of the sweep continues. The resulting snapshot
// list follows station listing order. force is passed through to the source
// adapters as a cache-busting hint.
func (s *Sweeper) Run(ctx context.Context, force bool) {
	ctx, span := telemetry.StartSpan(ctx, "nowplaying", "Sweep")
	defer span.End()

	start := time.Now()

	stations, err := s.listEnabled(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list stations for sweep")
		telemetry.RecordError(span, err)
		return
	}

	snapshots := make([]*Snapshot, 0, len(stations))
	for i := range stations {
		station := &stations[i]
		snapshot, err := s.updater.processStation(ctx, station, false, force)
		if err != nil {
			s.logger.Error().Err(err).Str("station_id", station.ID).Msg("station update failed during sweep")
			continue
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := s.cache.SetNowPlaying(ctx, snapshots); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache aggregate nowplaying")
	}
	if err := s.settings.WriteNowPlaying(ctx, snapshots); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist aggregate nowplaying")
	}

	s.bus.Publish(events.EventSweepComplete, events.Payload{
		"stations": len(snapshots),
		"force":    force,
	})

	telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	telemetry.SweepStations.Set(float64(len(snapshots)))

	s.logger.Debug().
		Int("stations", len(snapshots)).
		Dur("took", time.Since(start)).
		Msg("nowplaying sweep complete")
}

// listEnabled returns enabled stations with relays preloaded, in stable name
// order. Snapshot list order follows this order.
func (s *Sweeper) listEnabled(ctx context.Context) ([]models.Station, error) {
	var stations []models.Station
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Preload("Relays").
		Order("name ASC").
		Find(&stations).Error
	return stations, err
}
