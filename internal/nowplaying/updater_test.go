/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package nowplaying

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/mimir_nowplaying/internal/events"
	"github.com/friendsincode/mimir_nowplaying/internal/locks"
	"github.com/friendsincode/mimir_nowplaying/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Station{},
		&models.Relay{},
		&models.MediaItem{},
		&models.StationQueue{},
		&models.Listener{},
		&models.Settings{},
	); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

type stubSettings struct {
	level models.AnalyticsLevel
	err   error
}

func (s *stubSettings) AnalyticsLevel(context.Context) (models.AnalyticsLevel, error) {
	return s.level, s.err
}

type stubListeners struct {
	mu       sync.Mutex
	replaced map[string][]Client
}

func (s *stubListeners) ReplaceAll(_ context.Context, stationID string, clients []Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaced == nil {
		s.replaced = make(map[string][]Client)
	}
	s.replaced[stationID] = clients
	return nil
}

func (s *stubListeners) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replaced)
}

func newTestUpdater(t *testing.T, db *gorm.DB, settings SettingsReader, listeners ListenerStore, bus *events.Bus, baseURL string, contributors ...Contributor) *Updater {
	t.Helper()
	if bus == nil {
		bus = events.NewBus()
	}
	agg := NewAggregator(zerolog.Nop(), contributors...)
	lockMgr := locks.NewMemoryManager(0, 5*time.Millisecond)
	return NewUpdater(db, lockMgr, agg, settings, listeners, bus, baseURL, zerolog.Nop())
}

func seedStation(t *testing.T, db *gorm.DB, station *models.Station) *models.Station {
	t.Helper()
	if err := db.Create(station).Error; err != nil {
		t.Fatalf("failed to seed station: %v", err)
	}
	return station
}

func TestProcessStationPersistsSnapshot(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{
		ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true,
		ListenURL: "/listen/wvbr.mp3",
	})

	updater := newTestUpdater(t, db, &stubSettings{level: models.AnalyticsAnonymous}, &stubListeners{}, nil, "",
		&funcContributor{name: "frontend", fn: func(_ context.Context, _ *models.Station, result *Result, _ BuildOptions) error {
			result.Song = RawSong{Title: "On Air", Artist: "The Hosts", Duration: 180}
			result.Elapsed = 30
			result.Online = true
			result.Listeners.Total = 7
			return nil
		}},
	)

	snapshot, err := updater.ProcessStation(context.Background(), station, false)
	if err != nil {
		t.Fatalf("ProcessStation() error = %v", err)
	}

	if snapshot.Cache != CacheGeneral {
		t.Errorf("returned snapshot Cache = %q, want %q", snapshot.Cache, CacheGeneral)
	}
	if snapshot.Station.ListenURL != "/listen/wvbr.mp3" {
		t.Errorf("stored snapshot ListenURL = %q, want configured relative form", snapshot.Station.ListenURL)
	}

	var reloaded models.Station
	if err := db.First(&reloaded, "id = ?", "s1").Error; err != nil {
		t.Fatalf("reload station: %v", err)
	}
	if len(reloaded.NowPlaying) == 0 {
		t.Fatal("station row has no persisted snapshot")
	}

	var persisted Snapshot
	if err := json.Unmarshal(reloaded.NowPlaying, &persisted); err != nil {
		t.Fatalf("unmarshal persisted snapshot: %v", err)
	}
	if persisted.NowPlaying.Song.Title != "On Air" || persisted.Listeners.Total != 7 {
		t.Errorf("persisted snapshot = %+v", persisted)
	}
	if !persisted.Online {
		t.Error("persisted snapshot should be online")
	}
}

func TestProcessStationEventCopyIsIndependent(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{
		ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true,
		ListenURL: "/listen/wvbr.mp3",
	})

	bus := events.NewBus()
	updates := bus.Subscribe(events.EventNowPlayingUpdated)

	updater := newTestUpdater(t, db, &stubSettings{level: models.AnalyticsAnonymous}, &stubListeners{}, bus, "http://radio.example.com",
		&funcContributor{name: "frontend", fn: func(_ context.Context, _ *models.Station, result *Result, _ BuildOptions) error {
			result.Song.Title = "Track"
			result.Online = true
			return nil
		}},
	)

	stored, err := updater.ProcessStation(context.Background(), station, true)
	if err != nil {
		t.Fatalf("ProcessStation() error = %v", err)
	}

	var payload events.Payload
	select {
	case payload = <-updates:
	case <-time.After(time.Second):
		t.Fatal("no update event published")
	}

	eventCopy, ok := payload["snapshot"].(*Snapshot)
	if !ok {
		t.Fatalf("event payload snapshot has type %T", payload["snapshot"])
	}
	if standalone, _ := payload["standalone"].(bool); !standalone {
		t.Error("standalone flag not carried on the event")
	}

	if eventCopy.Cache != CacheEvent {
		t.Errorf("event copy Cache = %q, want %q", eventCopy.Cache, CacheEvent)
	}
	if eventCopy.Station.ListenURL != "http://radio.example.com/listen/wvbr.mp3" {
		t.Errorf("event copy ListenURL = %q, want resolved absolute form", eventCopy.Station.ListenURL)
	}

	// The stored snapshot must be untouched by the event copy's mutations.
	if stored.Cache != CacheGeneral {
		t.Errorf("stored snapshot Cache = %q, want %q", stored.Cache, CacheGeneral)
	}
	if stored.Station.ListenURL != "/listen/wvbr.mp3" {
		t.Errorf("stored snapshot ListenURL = %q, want relative form", stored.Station.ListenURL)
	}

	eventCopy.NowPlaying.Song.Title = "Mutated"
	if stored.NowPlaying.Song.Title != "Track" {
		t.Error("mutating the event copy leaked into the stored snapshot")
	}
}

func TestProcessStationBlankOnAggregationFailure(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{
		ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true,
	})

	updater := newTestUpdater(t, db, &stubSettings{level: models.AnalyticsAnonymous}, &stubListeners{}, nil, "",
		&funcContributor{name: "frontend", fn: func(_ context.Context, _ *models.Station, _ *Result, _ BuildOptions) error {
			return errors.New("frontend offline")
		}},
	)

	snapshot, err := updater.ProcessStation(context.Background(), station, false)
	if err != nil {
		t.Fatalf("ProcessStation() error = %v, aggregation failure must not abort", err)
	}

	if snapshot.Online {
		t.Error("blank snapshot should be offline")
	}
	if snapshot.Listeners.Total != 0 || snapshot.NowPlaying.Song.Text != "" {
		t.Errorf("blank snapshot not blank: %+v", snapshot)
	}

	var reloaded models.Station
	if err := db.First(&reloaded, "id = ?", "s1").Error; err != nil {
		t.Fatalf("reload station: %v", err)
	}
	if len(reloaded.NowPlaying) == 0 {
		t.Error("blank snapshot was not persisted")
	}
}

func TestProcessStationListenerDetail(t *testing.T) {
	clients := []Client{{UID: "c1", IP: "203.0.113.9", Mount: "/radio.mp3"}}

	tests := []struct {
		name         string
		level        models.AnalyticsLevel
		settingsErr  error
		clients      []Client
		wantReplaced bool
	}{
		{"full level stores clients", models.AnalyticsFull, nil, clients, true},
		{"anonymous level skips clients", models.AnalyticsAnonymous, nil, clients, false},
		{"none level skips clients", models.AnalyticsNone, nil, clients, false},
		{"settings error falls back to aggregate only", models.AnalyticsFull, errors.New("db down"), clients, false},
		{"full level with no client data skips replace", models.AnalyticsFull, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			station := seedStation(t, db, &models.Station{
				ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true,
			})

			listenerStore := &stubListeners{}
			updater := newTestUpdater(t, db, &stubSettings{level: tt.level, err: tt.settingsErr}, listenerStore, nil, "",
				&funcContributor{name: "frontend", fn: func(_ context.Context, _ *models.Station, result *Result, opts BuildOptions) error {
					if opts.IncludeClients {
						result.Clients = tt.clients
					}
					return nil
				}},
			)

			if _, err := updater.ProcessStation(context.Background(), station, false); err != nil {
				t.Fatalf("ProcessStation() error = %v", err)
			}

			if got := listenerStore.calls() > 0; got != tt.wantReplaced {
				t.Errorf("listener replace called = %v, want %v", got, tt.wantReplaced)
			}
		})
	}
}

func TestProcessStationSerializesPerStation(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{
		ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true,
	})

	var inside, maxInside int32

	updater := newTestUpdater(t, db, &stubSettings{level: models.AnalyticsAnonymous}, &stubListeners{}, nil, "",
		&funcContributor{name: "slow", fn: func(_ context.Context, _ *models.Station, _ *Result, _ BuildOptions) error {
			n := atomic.AddInt32(&inside, 1)
			for {
				max := atomic.LoadInt32(&maxInside)
				if n <= max || atomic.CompareAndSwapInt32(&maxInside, max, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return nil
		}},
	)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := updater.ProcessStation(context.Background(), station, false); err != nil {
				t.Errorf("ProcessStation() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInside); got != 1 {
		t.Errorf("max concurrent updates for one station = %d, want 1", got)
	}
}

func TestProcessStationRepeatedRunsMatch(t *testing.T) {
	db := setupTestDB(t)
	station := seedStation(t, db, &models.Station{
		ID: "s1", Name: "WVBR", ShortName: "wvbr", Enabled: true,
		ListenURL: "/listen/wvbr.mp3",
	})

	updater := newTestUpdater(t, db, &stubSettings{level: models.AnalyticsAnonymous}, &stubListeners{}, nil, "",
		&funcContributor{name: "frontend", fn: func(_ context.Context, _ *models.Station, result *Result, _ BuildOptions) error {
			result.Song = RawSong{Title: "Steady State", Artist: "The Hosts", Duration: 200}
			result.Elapsed = 40
			result.Online = true
			result.Listeners.Total = 4
			return nil
		}},
	)

	first, err := updater.ProcessStation(context.Background(), station, false)
	if err != nil {
		t.Fatalf("first ProcessStation() error = %v", err)
	}
	second, err := updater.ProcessStation(context.Background(), station, false)
	if err != nil {
		t.Fatalf("second ProcessStation() error = %v", err)
	}

	// With unchanged source data the runs differ only in clock-derived fields.
	first.UpdatedAt = time.Time{}
	second.UpdatedAt = time.Time{}
	first.NowPlaying.PlayedAt = time.Time{}
	second.NowPlaying.PlayedAt = time.Time{}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("snapshots diverge:\nfirst:  %s\nsecond: %s", a, b)
	}
}
