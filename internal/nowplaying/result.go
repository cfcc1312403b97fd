/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package nowplaying implements the per-station now-playing
// aggregation-and-update pipeline: raw result collection from the station's
// streaming frontend and its relays, snapshot generation, persistence,
// webhook notification, and the sweep and delayed re-trigger drivers around
// it. All update paths for one station serialize on that station's lock.
package nowplaying

import "time"

// RawSong is the source-level view of the current track.
type RawSong struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Text     string `json:"text"`
	Duration int    `json:"duration"` // seconds, 0 when unknown
}

// RawListeners holds aggregate listener counts.
type RawListeners struct {
	Total   int `json:"total"`
	Unique  int `json:"unique"`
	Current int `json:"current"`
}

// Client is one connected listener as reported by a source.
type Client struct {
	UID         string    `json:"uid"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"user_agent"`
	Mount       string    `json:"mount"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Result is the fused source-level now-playing state for one station.
// It is rebuilt on every update and never persisted as-is.
type Result struct {
	Song    RawSong `json:"song"`
	Elapsed int     `json:"elapsed"` // seconds into the current track

	Online       bool   `json:"online"`
	IsLive       bool   `json:"is_live"`
	StreamerName string `json:"streamer_name"`

	Listeners RawListeners `json:"listeners"`

	// MountListeners maps mount path to its listener count.
	MountListeners map[string]int `json:"mount_listeners,omitempty"`

	// Clients is populated only when detailed collection was requested and
	// at least one source could provide it.
	Clients []Client `json:"clients,omitempty"`
}

// BlankResult is the well-defined substitute when every source failed:
// offline, all counts zero.
func BlankResult() Result {
	return Result{}
}

// BuildOptions carries per-build flags through the contributor chain.
type BuildOptions struct {
	// IncludeClients requests per-client listener detail from the sources.
	IncludeClients bool

	// Force hints adapters to bypass any caching they do.
	Force bool
}
