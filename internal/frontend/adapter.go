/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package frontend queries a station's streaming frontend for live
// track/listener state over its JSON status endpoint.
package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/nowplaying"
)

const (
	maxStatusBody  = 256 * 1024
	requestTimeout = 10 * time.Second
)

// statusPayload is the frontend status document.
type statusPayload struct {
	Online bool `json:"online"`
	Live   struct {
		IsLive       bool   `json:"is_live"`
		StreamerName string `json:"streamer_name"`
	} `json:"live"`
	Song struct {
		Title    string `json:"title"`
		Artist   string `json:"artist"`
		Text     string `json:"text"`
		Duration int    `json:"duration"`
	} `json:"song"`
	Elapsed   int `json:"elapsed"`
	Listeners struct {
		Total   int `json:"total"`
		Unique  int `json:"unique"`
		Current int `json:"current"`
	} `json:"listeners"`
	Mounts  map[string]mountPayload `json:"mounts"`
	Clients []clientPayload         `json:"clients"`
}

type mountPayload struct {
	Listeners int `json:"listeners"`
}

type clientPayload struct {
	UID         string `json:"uid"`
	IP          string `json:"ip"`
	UserAgent   string `json:"user_agent"`
	Mount       string `json:"mount"`
	ConnectedAt int64  `json:"connected_at"` // unix seconds
}

// Adapter implements nowplaying.FrontendAdapter over HTTP.
type Adapter struct {
	client *http.Client
	logger zerolog.Logger
}

// New creates a frontend adapter.
func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.With().Str("component", "frontend").Logger(),
	}
}

// NowPlaying fetches the station's status document and maps it into a raw
// result. Per-client detail is requested only when opts.IncludeClients.
func (a *Adapter) NowPlaying(ctx context.Context, station *models.Station, opts nowplaying.BuildOptions) (nowplaying.Result, error) {
	if station.FrontendURL == "" {
		return nowplaying.Result{}, fmt.Errorf("station %s has no frontend URL", station.ID)
	}

	statusURL, err := buildStatusURL(station.FrontendURL, opts)
	if err != nil {
		return nowplaying.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nowplaying.Result{}, fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if opts.Force {
		req.Header.Set("Cache-Control", "no-store")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nowplaying.Result{}, fmt.Errorf("frontend status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nowplaying.Result{}, fmt.Errorf("frontend status returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return nowplaying.Result{}, fmt.Errorf("read status body: %w", err)
	}

	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nowplaying.Result{}, fmt.Errorf("parse status body: %w", err)
	}

	return mapPayload(payload, opts.IncludeClients), nil
}

func buildStatusURL(frontendURL string, opts nowplaying.BuildOptions) (string, error) {
	parsed, err := url.Parse(frontendURL)
	if err != nil {
		return "", fmt.Errorf("parse frontend URL: %w", err)
	}

	query := parsed.Query()
	if opts.IncludeClients {
		query.Set("clients", "true")
	}
	if opts.Force {
		query.Set("refresh", "1")
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

func mapPayload(payload statusPayload, includeClients bool) nowplaying.Result {
	result := nowplaying.Result{
		Song: nowplaying.RawSong{
			Title:    payload.Song.Title,
			Artist:   payload.Song.Artist,
			Text:     payload.Song.Text,
			Duration: payload.Song.Duration,
		},
		Elapsed:      payload.Elapsed,
		Online:       payload.Online,
		IsLive:       payload.Live.IsLive,
		StreamerName: payload.Live.StreamerName,
		Listeners: nowplaying.RawListeners{
			Total:   payload.Listeners.Total,
			Unique:  payload.Listeners.Unique,
			Current: payload.Listeners.Current,
		},
	}

	if len(payload.Mounts) > 0 {
		result.MountListeners = make(map[string]int, len(payload.Mounts))
		for mount, m := range payload.Mounts {
			result.MountListeners[mount] = m.Listeners
		}
	}

	if includeClients && payload.Clients != nil {
		result.Clients = make([]nowplaying.Client, 0, len(payload.Clients))
		for _, c := range payload.Clients {
			result.Clients = append(result.Clients, nowplaying.Client{
				UID:         c.UID,
				IP:          c.IP,
				UserAgent:   c.UserAgent,
				Mount:       c.Mount,
				ConnectedAt: time.Unix(c.ConnectedAt, 0).UTC(),
			})
		}
	}

	return result
}
