/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package nowplaying

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/dispatch"
	"github.com/friendsincode/mimir_nowplaying/internal/events"
	"github.com/friendsincode/mimir_nowplaying/internal/locks"
	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/queue"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	sends []dispatch.Message
}

func (d *recordingDispatcher) Send(_ context.Context, msg dispatch.Message, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, msg)
	return nil
}

func (d *recordingDispatcher) Start(context.Context, dispatch.Handler) {}
func (d *recordingDispatcher) Close() error                           { return nil }

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sends)
}

func newTestTrigger(t *testing.T, db *gorm.DB, lockMgr locks.Manager, dispatcher dispatch.Dispatcher, updater *Updater) *TriggerQueue {
	t.Helper()
	if lockMgr == nil {
		lockMgr = locks.NewMemoryManager(0, 5*time.Millisecond)
	}
	return NewTriggerQueue(db, lockMgr, queue.NewStore(db), dispatcher, updater, events.NewBus(), zerolog.Nop())
}

func TestQueueStationCreatesQueueEntry(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true})
	if err := db.Create(&models.MediaItem{ID: "m1", StationID: "s1", Title: "Track"}).Error; err != nil {
		t.Fatalf("seed media: %v", err)
	}

	dispatcher := &recordingDispatcher{}
	trigger := newTestTrigger(t, db, nil, dispatcher, nil)

	err := trigger.QueueStation(context.Background(), station, TrackChangeHints{MediaID: "m1", PlaylistID: "p1"})
	if err != nil {
		t.Fatalf("QueueStation() error = %v", err)
	}

	var entry models.StationQueue
	if err := db.First(&entry, "station_id = ? AND media_id = ?", "s1", "m1").Error; err != nil {
		t.Fatalf("queue entry not created: %v", err)
	}
	if entry.CuedAt == nil {
		t.Error("fresh queue entry has no CuedAt")
	}
	if !entry.SentToAutodj {
		t.Error("queue entry not marked sent to the automation player")
	}
	if entry.PlaylistID == nil || *entry.PlaylistID != "p1" {
		t.Errorf("PlaylistID = %v, want p1", entry.PlaylistID)
	}

	if dispatcher.count() != 1 {
		t.Errorf("dispatched messages = %d, want 1", dispatcher.count())
	}
}

func TestQueueStationBackfillsExistingEntry(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true})
	if err := db.Create(&models.MediaItem{ID: "m1", StationID: "s1", Title: "Track"}).Error; err != nil {
		t.Fatalf("seed media: %v", err)
	}

	mediaID := "m1"
	cued := time.Now().Add(-time.Minute)
	existing := &models.StationQueue{
		ID: "q1", StationID: "s1", MediaID: &mediaID, CuedAt: &cued,
	}
	if err := db.Create(existing).Error; err != nil {
		t.Fatalf("seed queue entry: %v", err)
	}

	trigger := newTestTrigger(t, db, nil, &recordingDispatcher{}, nil)

	err := trigger.QueueStation(context.Background(), station, TrackChangeHints{MediaID: "m1", PlaylistID: "p1"})
	if err != nil {
		t.Fatalf("QueueStation() error = %v", err)
	}

	var count int64
	db.Model(&models.StationQueue{}).Where("station_id = ?", "s1").Count(&count)
	if count != 1 {
		t.Fatalf("queue entries = %d, want the existing one reused", count)
	}

	var entry models.StationQueue
	if err := db.First(&entry, "id = ?", "q1").Error; err != nil {
		t.Fatalf("reload entry: %v", err)
	}
	if entry.PlaylistID == nil || *entry.PlaylistID != "p1" {
		t.Errorf("PlaylistID = %v, want backfilled p1", entry.PlaylistID)
	}
	if !entry.SentToAutodj {
		t.Error("existing entry not marked sent to the automation player")
	}
}

func TestQueueStationAttachesMediaToSongOnlyEntry(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true})
	if err := db.Create(&models.MediaItem{ID: "m1", StationID: "s1", Title: "Track", Artist: "Band"}).Error; err != nil {
		t.Fatalf("seed media: %v", err)
	}

	// Cued by song name only, no media link yet.
	cued := time.Now().Add(-time.Minute)
	existing := &models.StationQueue{
		ID: "q1", StationID: "s1", Title: "Track", Artist: "Band", CuedAt: &cued,
	}
	if err := db.Create(existing).Error; err != nil {
		t.Fatalf("seed queue entry: %v", err)
	}

	trigger := newTestTrigger(t, db, nil, &recordingDispatcher{}, nil)

	if err := trigger.QueueStation(context.Background(), station, TrackChangeHints{MediaID: "m1"}); err != nil {
		t.Fatalf("QueueStation() error = %v", err)
	}

	var count int64
	db.Model(&models.StationQueue{}).Where("station_id = ?", "s1").Count(&count)
	if count != 1 {
		t.Fatalf("queue entries = %d, want the song-only entry reused, not duplicated", count)
	}

	var entry models.StationQueue
	if err := db.First(&entry, "id = ?", "q1").Error; err != nil {
		t.Fatalf("reload entry: %v", err)
	}
	if entry.MediaID == nil || *entry.MediaID != "m1" {
		t.Errorf("MediaID = %v, want backfilled m1", entry.MediaID)
	}
	if !entry.SentToAutodj {
		t.Error("entry not marked sent to the automation player")
	}
}

func TestQueueStationUnknownMediaIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true})

	dispatcher := &recordingDispatcher{}
	trigger := newTestTrigger(t, db, nil, dispatcher, nil)

	err := trigger.QueueStation(context.Background(), station, TrackChangeHints{MediaID: "does-not-exist"})
	if err != nil {
		t.Fatalf("QueueStation() error = %v, unknown media must not fail the signal", err)
	}

	var count int64
	db.Model(&models.StationQueue{}).Count(&count)
	if count != 0 {
		t.Errorf("queue entries = %d, want none for unknown media", count)
	}

	// The deferred re-check is still scheduled.
	if dispatcher.count() != 1 {
		t.Errorf("dispatched messages = %d, want 1", dispatcher.count())
	}
}

func TestQueueStationCoalescesUnderContention(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true})
	if err := db.Create(&models.MediaItem{ID: "m1", StationID: "s1", Title: "Track"}).Error; err != nil {
		t.Fatalf("seed media: %v", err)
	}

	lockMgr := locks.NewMemoryManager(0, 5*time.Millisecond)
	held, err := lockMgr.TryAcquire(context.Background(), locks.StationLockName("s1"))
	if err != nil {
		t.Fatalf("pre-acquire station lock: %v", err)
	}
	defer lockMgr.Release(context.Background(), held)

	dispatcher := &recordingDispatcher{}
	trigger := newTestTrigger(t, db, lockMgr, dispatcher, nil)

	if err := trigger.QueueStation(context.Background(), station, TrackChangeHints{MediaID: "m1"}); err != nil {
		t.Fatalf("QueueStation() error = %v, contention must coalesce silently", err)
	}

	var count int64
	db.Model(&models.StationQueue{}).Count(&count)
	if count != 0 {
		t.Errorf("queue entries = %d, contended signal must skip backfill", count)
	}

	// The re-check is scheduled regardless of contention.
	if dispatcher.count() != 1 {
		t.Errorf("dispatched messages = %d, want 1", dispatcher.count())
	}
}

func TestQueueStationPublishesTrackChangeEvent(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true})

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventStationTrackChange)
	defer bus.Unsubscribe(events.EventStationTrackChange, sub)

	lockMgr := locks.NewMemoryManager(0, 5*time.Millisecond)
	trigger := NewTriggerQueue(db, lockMgr, queue.NewStore(db), &recordingDispatcher{}, nil, bus, zerolog.Nop())

	if err := trigger.QueueStation(context.Background(), station, TrackChangeHints{MediaID: "m1", PlaylistID: "p1"}); err != nil {
		t.Fatalf("QueueStation() error = %v", err)
	}

	select {
	case payload := <-sub:
		if payload["station_id"] != "s1" || payload["media_id"] != "m1" {
			t.Errorf("payload = %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no track-change event published")
	}
}

func TestOnMessageDropsUnknownAndDisabledStations(t *testing.T) {
	db := setupTestDB(t)
	seedStation(t, db, &models.Station{ID: "off", Name: "Off Air", ShortName: "off", Enabled: false})

	var contributed int32
	updater := newTestUpdater(t, db, &stubSettings{level: models.AnalyticsAnonymous}, &stubListeners{}, nil, "",
		&funcContributor{name: "counting", fn: func(_ context.Context, _ *models.Station, _ *Result, _ BuildOptions) error {
			atomic.AddInt32(&contributed, 1)
			return nil
		}},
	)

	trigger := newTestTrigger(t, db, nil, &recordingDispatcher{}, updater)

	trigger.onMessage(context.Background(), dispatch.Message{StationID: "does-not-exist"})
	trigger.onMessage(context.Background(), dispatch.Message{StationID: "off"})

	if n := atomic.LoadInt32(&contributed); n != 0 {
		t.Errorf("updates ran = %d, want 0 for unknown and disabled stations", n)
	}
}

func TestOnMessageRunsStandaloneUpdate(t *testing.T) {
	db := setupTestDB(t)
	seedStation(t, db, &models.Station{ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true})

	var contributed int32
	updater := newTestUpdater(t, db, &stubSettings{level: models.AnalyticsAnonymous}, &stubListeners{}, nil, "",
		&funcContributor{name: "counting", fn: func(_ context.Context, _ *models.Station, _ *Result, _ BuildOptions) error {
			atomic.AddInt32(&contributed, 1)
			return nil
		}},
	)

	trigger := newTestTrigger(t, db, nil, &recordingDispatcher{}, updater)
	trigger.onMessage(context.Background(), dispatch.Message{StationID: "s1"})

	if n := atomic.LoadInt32(&contributed); n != 1 {
		t.Errorf("updates ran = %d, want 1", n)
	}

	var reloaded models.Station
	if err := db.First(&reloaded, "id = ?", "s1").Error; err != nil {
		t.Fatalf("reload station: %v", err)
	}
	if len(reloaded.NowPlaying) == 0 {
		t.Error("deferred re-check did not persist a snapshot")
	}
}
