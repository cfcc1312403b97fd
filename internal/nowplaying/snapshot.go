/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package nowplaying

import (
	"strings"
	"time"

	"github.com/friendsincode/mimir_nowplaying/internal/models"
)

// CacheTag marks the provenance of a snapshot copy.
type CacheTag string

const (
	// CacheGeneral is the default tag on stored and cached snapshots.
	CacheGeneral CacheTag = "general"
	// CacheEvent tags the independent copy handed to webhook subscribers.
	CacheEvent CacheTag = "event"
)

// SnapshotStation is the station block of the public structure.
type SnapshotStation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortcode"`
	ListenURL string `json:"listen_url"`
}

// SnapshotSong is the public track view.
type SnapshotSong struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Text   string `json:"text"`
}

// SnapshotNowPlaying is the current-track block.
type SnapshotNowPlaying struct {
	Song      SnapshotSong `json:"song"`
	Duration  int          `json:"duration"`
	Elapsed   int          `json:"elapsed"`
	Remaining int          `json:"remaining"`
	PlayedAt  time.Time    `json:"played_at"`
}

// SnapshotListeners is the public listener-count block.
type SnapshotListeners struct {
	Total   int `json:"total"`
	Unique  int `json:"unique"`
	Current int `json:"current"`
}

// SnapshotLive describes live-DJ state.
type SnapshotLive struct {
	IsLive       bool   `json:"is_live"`
	StreamerName string `json:"streamer_name"`
}

// Snapshot is the API-shaped now-playing structure for one station. One
// instance per station; persisted on the Station row and cached in aggregate.
type Snapshot struct {
	Station    SnapshotStation    `json:"station"`
	NowPlaying SnapshotNowPlaying `json:"now_playing"`
	Listeners  SnapshotListeners  `json:"listeners"`
	Live       SnapshotLive       `json:"live"`
	Online     bool               `json:"is_online"`
	Cache      CacheTag           `json:"cache"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// BuildSnapshot derives the public structure from a raw result. The listen
// URL is carried over as configured (possibly relative); ResolveURLs turns it
// absolute on copies that leave the platform.
func BuildSnapshot(station *models.Station, raw Result, at time.Time) *Snapshot {
	remaining := raw.Song.Duration - raw.Elapsed
	if remaining < 0 {
		remaining = 0
	}

	text := raw.Song.Text
	if text == "" {
		text = songText(raw.Song.Artist, raw.Song.Title)
	}

	return &Snapshot{
		Station: SnapshotStation{
			ID:        station.ID,
			Name:      station.Name,
			ShortName: station.ShortName,
			ListenURL: station.ListenURL,
		},
		NowPlaying: SnapshotNowPlaying{
			Song: SnapshotSong{
				Title:  raw.Song.Title,
				Artist: raw.Song.Artist,
				Text:   text,
			},
			Duration:  raw.Song.Duration,
			Elapsed:   raw.Elapsed,
			Remaining: remaining,
			PlayedAt:  at.Add(-time.Duration(raw.Elapsed) * time.Second),
		},
		Listeners: SnapshotListeners{
			Total:   raw.Listeners.Total,
			Unique:  raw.Listeners.Unique,
			Current: raw.Listeners.Current,
		},
		Live: SnapshotLive{
			IsLive:       raw.IsLive,
			StreamerName: raw.StreamerName,
		},
		Online:    raw.Online,
		Cache:     CacheGeneral,
		UpdatedAt: at,
	}
}

// Clone returns a deep, independent copy. The webhook path mutates its copy
// (cache tag, URL form); the original must stay untouched.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// ResolveURLs rewrites relative URLs against the platform base URL.
func (s *Snapshot) ResolveURLs(baseURL string) {
	if baseURL == "" {
		return
	}
	if strings.HasPrefix(s.Station.ListenURL, "/") {
		s.Station.ListenURL = strings.TrimRight(baseURL, "/") + s.Station.ListenURL
	}
}

func songText(artist, title string) string {
	switch {
	case artist == "":
		return title
	case title == "":
		return artist
	default:
		return artist + " - " + title
	}
}
