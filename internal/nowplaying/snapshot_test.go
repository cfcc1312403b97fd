/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package nowplaying

import (
	"testing"
	"time"

	"github.com/friendsincode/mimir_nowplaying/internal/models"
)

func TestBuildSnapshot(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	station := &models.Station{
		ID:        "s1",
		Name:      "WVBR",
		ShortName: "wvbr",
		ListenURL: "/listen/wvbr/radio.mp3",
	}

	raw := Result{
		Song:    RawSong{Title: "Track", Artist: "Band", Duration: 240},
		Elapsed: 90,
		Online:  true,
		Listeners: RawListeners{
			Total: 12, Unique: 10, Current: 11,
		},
	}

	snapshot := BuildSnapshot(station, raw, at)

	if snapshot.Station.ID != "s1" || snapshot.Station.ShortName != "wvbr" {
		t.Errorf("station block = %+v", snapshot.Station)
	}
	if snapshot.NowPlaying.Remaining != 150 {
		t.Errorf("Remaining = %d, want 150", snapshot.NowPlaying.Remaining)
	}
	if want := at.Add(-90 * time.Second); !snapshot.NowPlaying.PlayedAt.Equal(want) {
		t.Errorf("PlayedAt = %v, want %v", snapshot.NowPlaying.PlayedAt, want)
	}
	if snapshot.NowPlaying.Song.Text != "Band - Track" {
		t.Errorf("Song.Text = %q, want artist - title fallback", snapshot.NowPlaying.Song.Text)
	}
	if snapshot.Cache != CacheGeneral {
		t.Errorf("Cache = %q, want %q", snapshot.Cache, CacheGeneral)
	}
	if !snapshot.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", snapshot.UpdatedAt, at)
	}
}

func TestBuildSnapshotClampsNegativeRemaining(t *testing.T) {
	raw := Result{
		Song:    RawSong{Title: "Overrun", Duration: 60},
		Elapsed: 95,
	}

	snapshot := BuildSnapshot(&models.Station{ID: "s1"}, raw, time.Now())
	if snapshot.NowPlaying.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0 when elapsed exceeds duration", snapshot.NowPlaying.Remaining)
	}
}

func TestSongText(t *testing.T) {
	tests := []struct {
		name   string
		artist string
		title  string
		want   string
	}{
		{"both", "Band", "Track", "Band - Track"},
		{"title only", "", "Track", "Track"},
		{"artist only", "Band", "", "Band"},
		{"neither", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := songText(tt.artist, tt.title); got != tt.want {
				t.Errorf("songText(%q, %q) = %q, want %q", tt.artist, tt.title, got, tt.want)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	original := BuildSnapshot(&models.Station{
		ID:        "s1",
		ListenURL: "/listen/s1.mp3",
	}, Result{Song: RawSong{Title: "Track"}}, time.Now())

	clone := original.Clone()
	clone.Cache = CacheEvent
	clone.Station.ListenURL = "http://radio.example.com/listen/s1.mp3"
	clone.NowPlaying.Song.Title = "Mutated"

	if original.Cache != CacheGeneral {
		t.Errorf("original Cache = %q, mutation leaked through clone", original.Cache)
	}
	if original.Station.ListenURL != "/listen/s1.mp3" {
		t.Errorf("original ListenURL = %q, mutation leaked through clone", original.Station.ListenURL)
	}
	if original.NowPlaying.Song.Title != "Track" {
		t.Errorf("original Song.Title = %q, mutation leaked through clone", original.NowPlaying.Song.Title)
	}
}

func TestCloneNil(t *testing.T) {
	var s *Snapshot
	if s.Clone() != nil {
		t.Error("Clone() of nil snapshot should be nil")
	}
}

func TestResolveURLs(t *testing.T) {
	tests := []struct {
		name    string
		listen  string
		baseURL string
		want    string
	}{
		{"relative resolved", "/listen/s1.mp3", "http://radio.example.com", "http://radio.example.com/listen/s1.mp3"},
		{"trailing slash trimmed", "/listen/s1.mp3", "http://radio.example.com/", "http://radio.example.com/listen/s1.mp3"},
		{"absolute untouched", "http://cdn.example.com/s1.mp3", "http://radio.example.com", "http://cdn.example.com/s1.mp3"},
		{"empty base is a no-op", "/listen/s1.mp3", "", "/listen/s1.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Snapshot{Station: SnapshotStation{ListenURL: tt.listen}}
			s.ResolveURLs(tt.baseURL)
			if s.Station.ListenURL != tt.want {
				t.Errorf("ListenURL = %q, want %q", s.Station.ListenURL, tt.want)
			}
		})
	}
}
