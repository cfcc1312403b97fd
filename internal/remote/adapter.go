/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package remote folds a relay/rebroadcast service's listener view into the
// running nowplaying result.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/nowplaying"
)

const (
	statusPath     = "/api/nowplaying"
	maxStatusBody  = 256 * 1024
	requestTimeout = 10 * time.Second
)

// relayPayload is the relay's own status document.
type relayPayload struct {
	Online    bool `json:"online"`
	Listeners struct {
		Total   int `json:"total"`
		Unique  int `json:"unique"`
		Current int `json:"current"`
	} `json:"listeners"`
	Mounts map[string]struct {
		Listeners int `json:"listeners"`
	} `json:"mounts"`
	Clients []struct {
		UID         string `json:"uid"`
		IP          string `json:"ip"`
		UserAgent   string `json:"user_agent"`
		Mount       string `json:"mount"`
		ConnectedAt int64  `json:"connected_at"`
	} `json:"clients"`
}

// Adapter implements nowplaying.RemoteAdapter over HTTP.
type Adapter struct {
	client *http.Client
	logger zerolog.Logger
}

// New creates a remote adapter.
func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.With().Str("component", "remote").Logger(),
	}
}

// UpdateNowPlaying fetches the relay's listener view and folds it into the
// result: counts accumulate on top of whatever earlier sources reported, a
// relay that is serving listeners marks the stream online, and client lists
// are appended when detail was requested.
func (a *Adapter) UpdateNowPlaying(ctx context.Context, result *nowplaying.Result, relay *models.Relay, opts nowplaying.BuildOptions) error {
	statusURL := strings.TrimRight(relay.BaseURL, "/") + statusPath
	if opts.Force {
		statusURL += "?refresh=1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", relay.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay %s returned %d", relay.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return fmt.Errorf("read relay body: %w", err)
	}

	var payload relayPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("parse relay body: %w", err)
	}

	result.Listeners.Total += payload.Listeners.Total
	result.Listeners.Unique += payload.Listeners.Unique
	result.Listeners.Current += payload.Listeners.Current

	if payload.Online {
		result.Online = true
	}

	for mount, m := range payload.Mounts {
		if result.MountListeners == nil {
			result.MountListeners = make(map[string]int)
		}
		result.MountListeners[mount] += m.Listeners
	}

	if opts.IncludeClients {
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

	a.logger.Debug().
		Str("relay", relay.Name).
		Int("listeners", payload.Listeners.Total).
		Msg("relay nowplaying merged")

	return nil
}
