/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package nowplaying

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/events"
	"github.com/friendsincode/mimir_nowplaying/internal/locks"
	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/telemetry"
)

// SettingsReader exposes the runtime analytics level. It is re-read on every
// update so setting changes take effect without a restart.
type SettingsReader interface {
	AnalyticsLevel(ctx context.Context) (models.AnalyticsLevel, error)
}

// ListenerStore replaces a station's listener records wholesale.
type ListenerStore interface {
	ReplaceAll(ctx context.Context, stationID string, clients []Client) error
}

// Updater runs the per-station update sequence under the station lock:
// aggregate raw state, update listener records, generate and persist the
// snapshot, and hand an independent event-tagged copy to the webhook path.
type Updater struct {
	db        *gorm.DB
	locks     locks.Manager
	agg       *Aggregator
	settings  SettingsReader
	listeners ListenerStore
	bus       *events.Bus
	baseURL   string
	logger    zerolog.Logger

	now func() time.Time
}

// NewUpdater creates the update orchestrator.
func NewUpdater(db *gorm.DB, lockMgr locks.Manager, agg *Aggregator, settings SettingsReader, listeners ListenerStore, bus *events.Bus, baseURL string, logger zerolog.Logger) *Updater {
	return &Updater{
		db:        db,
		locks:     lockMgr,
		agg:       agg,
		settings:  settings,
		listeners: listeners,
		bus:       bus,
		baseURL:   baseURL,
		logger:    logger.With().Str("component", "nowplaying").Logger(),
		now:       time.Now,
	}
}

// ProcessStation runs one full update for the station. standalone marks
// single-station updates triggered outside the periodic sweep; webhook
// consumers may treat those differently.
//
// The station lock is held for the entire sequence and released on every
// exit path, so concurrent calls for the same station serialize.
func (u *Updater) ProcessStation(ctx context.Context, station *models.Station, standalone bool) (*Snapshot, error) {
	return u.processStation(ctx, station, standalone, false)
}

// processStation additionally threads the sweep's force flag through to the
// source adapters as a cache-busting hint.
func (u *Updater) processStation(ctx context.Context, station *models.Station, standalone, force bool) (*Snapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "nowplaying", "ProcessStation")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"station.id": station.ID,
		"standalone": standalone,
	})

	lock, err := u.locks.Acquire(ctx, locks.StationLockName(station.ID))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("station %s: %w", station.ID, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := u.locks.Release(releaseCtx, lock); err != nil {
			u.logger.Warn().Err(err).Str("station_id", station.ID).Msg("failed to release station lock")
		}
	}()

	start := u.now()
	logger := u.logger.With().Str("station_id", station.ID).Str("station", station.ShortName).Logger()

	snapshot, err := u.update(ctx, logger, station, standalone, force, start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		telemetry.RecordError(span, err)
	}
	telemetry.NowPlayingUpdatesTotal.WithLabelValues(station.ShortName, outcome).Inc()
	telemetry.NowPlayingUpdateDuration.WithLabelValues(station.ShortName).Observe(time.Since(start).Seconds())

	return snapshot, err
}

// update is the lock-scoped body of ProcessStation.
func (u *Updater) update(ctx context.Context, logger zerolog.Logger, station *models.Station, standalone, force bool, at time.Time) (*Snapshot, error) {
	level, err := u.settings.AnalyticsLevel(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read analytics level, assuming aggregate only")
		level = models.AnalyticsAnonymous
	}
	includeClients := level.IsDetailed()

	opts := BuildOptions{IncludeClients: includeClients, Force: force}
	raw, err := u.agg.BuildRaw(ctx, station, opts)
	if err != nil {
		// A misbehaving source must never abort the update; substitute the
		// blank result and carry on.
		logger.Warn().Err(err).Msg("raw nowplaying aggregation failed, using blank result")
		raw = BlankResult()
	}

	if includeClients && raw.Clients != nil {
		if err := u.listeners.ReplaceAll(ctx, station.ID, raw.Clients); err != nil {
			logger.Warn().Err(err).Msg("failed to replace listener records")
		}
	}

	snapshot := BuildSnapshot(station, raw, at)

	// The webhook path gets its own copy with absolute URLs and the event
	// tag; the stored snapshot keeps the default tag and configured URL form.
	eventCopy := snapshot.Clone()
	eventCopy.ResolveURLs(u.baseURL)
	eventCopy.Cache = CacheEvent
	u.bus.Publish(events.EventNowPlayingUpdated, events.Payload{
		"station_id": station.ID,
		"snapshot":   eventCopy,
		"standalone": standalone,
	})

	if err := u.persist(ctx, station, snapshot); err != nil {
		return nil, fmt.Errorf("persist nowplaying for station %s: %w", station.ID, err)
	}

	logger.Debug().
		Str("song", snapshot.NowPlaying.Song.Text).
		Int("listeners", snapshot.Listeners.Total).
		Bool("online", snapshot.Online).
		Msg("nowplaying updated")

	return snapshot, nil
}

func (u *Updater) persist(ctx context.Context, station *models.Station, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	station.NowPlaying = models.JSON(data)
	if err := u.db.WithContext(ctx).Model(&models.Station{}).
		Where("id = ?", station.ID).
		Update("now_playing", station.NowPlaying).Error; err != nil {
		return err
	}
	return nil
}
