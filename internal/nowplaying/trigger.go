/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package nowplaying

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/dispatch"
	"github.com/friendsincode/mimir_nowplaying/internal/events"
	"github.com/friendsincode/mimir_nowplaying/internal/locks"
	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/telemetry"
)

// RetriggerDelay is how long after a track-change signal the re-check runs.
// The signal fires the moment playback starts, but stream state (bitrate
// negotiation, listener reconnection) stabilizes slightly later.
const RetriggerDelay = 2 * time.Second

// TrackChangeHints carries the optional media/playlist references a
// streaming-process callback may include.
type TrackChangeHints struct {
	MediaID    string `json:"media_id"`
	PlaylistID string `json:"playlist_id"`
}

// QueueStore reads and writes upcoming-queue entries.
type QueueStore interface {
	// FindUpcomingBySong returns the pending queue entry matching the
	// media's song at the station, or nil when none exists. Matching is by
	// song rather than media id so an entry cued without a media link yet
	// is still found and can be backfilled.
	FindUpcomingBySong(ctx context.Context, stationID string, media *models.MediaItem) (*models.StationQueue, error)
	Save(ctx context.Context, entry *models.StationQueue) error
}

// TriggerQueue handles external track-change signals: it backfills the
// upcoming-queue entry from the signal's hints and schedules a deferred
// single-station re-check. Concurrent signals for one station coalesce —
// whoever holds the station lock is already producing the update the
// duplicate would have asked for.
type TriggerQueue struct {
	db         *gorm.DB
	locks      locks.Manager
	queue      QueueStore
	dispatcher dispatch.Dispatcher
	updater    *Updater
	bus        *events.Bus
	delay      time.Duration
	logger     zerolog.Logger

	now func() time.Time
}

// NewTriggerQueue creates the re-trigger handler.
func NewTriggerQueue(db *gorm.DB, lockMgr locks.Manager, queue QueueStore, dispatcher dispatch.Dispatcher, updater *Updater, bus *events.Bus, logger zerolog.Logger) *TriggerQueue {
	return &TriggerQueue{
		db:         db,
		locks:      lockMgr,
		queue:      queue,
		dispatcher: dispatcher,
		updater:    updater,
		bus:        bus,
		delay:      RetriggerDelay,
		logger:     logger.With().Str("component", "trigger").Logger(),
		now:        time.Now,
	}
}

// Start begins consuming deferred re-check messages.
func (q *TriggerQueue) Start(ctx context.Context) {
	q.dispatcher.Start(ctx, q.onMessage)
}

// QueueStation processes one track-change signal. The hint-backfill portion
// is guarded by a non-blocking lock attempt; on contention it is skipped
// silently. The deferred re-check is always enqueued.
func (q *TriggerQueue) QueueStation(ctx context.Context, station *models.Station, hints TrackChangeHints) error {
	logger := q.logger.With().Str("station_id", station.ID).Logger()

	lock, err := q.locks.TryAcquire(ctx, locks.StationLockName(station.ID))
	switch {
	case errors.Is(err, locks.ErrNotAcquired):
		// A concurrent update is already handling this station.
		telemetry.LockContentionTotal.WithLabelValues("trigger").Inc()
		logger.Debug().Msg("station locked, skipping queue backfill")
	case err != nil:
		return fmt.Errorf("station %s: %w", station.ID, err)
	default:
		func() {
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := q.locks.Release(releaseCtx, lock); err != nil {
					logger.Warn().Err(err).Msg("failed to release station lock")
				}
			}()

			if err := q.applyHints(ctx, logger, station, hints); err != nil {
				logger.Warn().Err(err).Msg("failed to apply track-change hints")
			}
		}()
	}

	msg := dispatch.Message{StationID: station.ID}
	if err := q.dispatcher.Send(ctx, msg, q.delay); err != nil {
		return fmt.Errorf("schedule nowplaying re-check for station %s: %w", station.ID, err)
	}

	q.bus.Publish(events.EventStationTrackChange, events.Payload{
		"station_id":  station.ID,
		"media_id":    hints.MediaID,
		"playlist_id": hints.PlaylistID,
	})

	logger.Debug().Dur("delay", q.delay).Msg("nowplaying re-check scheduled")
	return nil
}

// applyHints resolves the media hint against the upcoming queue: create a
// freshly-cued entry when none exists, backfill media/playlist links when one
// does, and mark it handed to the automation player.
func (q *TriggerQueue) applyHints(ctx context.Context, logger zerolog.Logger, station *models.Station, hints TrackChangeHints) error {
	if hints.MediaID == "" {
		return nil
	}

	var media models.MediaItem
	err := q.db.WithContext(ctx).First(&media, "id = ?", hints.MediaID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Unknown media id: nothing to backfill.
		logger.Debug().Str("media_id", hints.MediaID).Msg("track-change hint references unknown media")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve media %s: %w", hints.MediaID, err)
	}

	entry, err := q.queue.FindUpcomingBySong(ctx, station.ID, &media)
	if err != nil {
		return fmt.Errorf("find upcoming queue entry: %w", err)
	}

	now := q.now()
	if entry == nil {
		mediaID := media.ID
		entry = &models.StationQueue{
			StationID: station.ID,
			MediaID:   &mediaID,
			Title:     media.Title,
			Artist:    media.Artist,
			CuedAt:    &now,
		}
	} else if entry.MediaID == nil {
		mediaID := media.ID
		entry.MediaID = &mediaID
	}

	if hints.PlaylistID != "" && entry.PlaylistID == nil {
		playlistID := hints.PlaylistID
		entry.PlaylistID = &playlistID
	}

	entry.SentToAutodj = true

	if err := q.queue.Save(ctx, entry); err != nil {
		return fmt.Errorf("save queue entry: %w", err)
	}
	return nil
}

// onMessage consumes a deferred re-check. Unknown station ids are dropped
// silently — the station may have been deleted between enqueue and delivery,
// and at-least-once delivery means duplicates are expected.
func (q *TriggerQueue) onMessage(ctx context.Context, msg dispatch.Message) {
	var station models.Station
	err := q.db.WithContext(ctx).Preload("Relays").First(&station, "id = ?", msg.StationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		q.logger.Debug().Str("station_id", msg.StationID).Msg("dropping re-check for unknown station")
		return
	}
	if err != nil {
		q.logger.Warn().Err(err).Str("station_id", msg.StationID).Msg("failed to load station for re-check")
		return
	}

	if !station.Enabled {
		return
	}

	if _, err := q.updater.ProcessStation(ctx, &station, true); err != nil {
		q.logger.Warn().Err(err).Str("station_id", station.ID).Msg("deferred nowplaying update failed")
	}
}
