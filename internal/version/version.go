/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information and update checking.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is the running build's version, set at build time via ldflags:
//
//	-X github.com/friendsincode/mimir_nowplaying/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// GitHubRepo is checked for newer releases.
const GitHubRepo = "friendsincode/mimir_nowplaying"

// UpdateInfo describes the latest known release.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	CheckedAt       time.Time `json:"checked_at,omitempty"`
}

// Checker polls GitHub for newer releases.
type Checker struct {
	mu     sync.RWMutex
	info   UpdateInfo
	logger zerolog.Logger
	client *http.Client
	period time.Duration
}

// NewChecker creates an update checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger: logger.With().Str("component", "version").Logger(),
		client: &http.Client{Timeout: 10 * time.Second},
		period: 6 * time.Hour,
		info:   UpdateInfo{CurrentVersion: Version},
	}
}

// Start checks immediately and then periodically until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	c.check(ctx)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

// Info returns the latest check result.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

func (c *Checker) check(ctx context.Context) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", GitHubRepo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Mimir-NowPlaying/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("release check failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode).Msg("release check rejected")
		return
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		c.logger.Debug().Err(err).Msg("release check returned bad body")
		return
	}

	latest := strings.TrimPrefix(release.TagName, "v")

	c.mu.Lock()
	c.info = UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: Compare(Version, latest) < 0,
		ReleaseURL:      release.HTMLURL,
		CheckedAt:       time.Now().UTC(),
	}
	info := c.info
	c.mu.Unlock()

	if info.UpdateAvailable {
		c.logger.Info().
			Str("current", Version).
			Str("latest", latest).
			Str("url", release.HTMLURL).
			Msg("newer release available")
	}
}

// Compare orders two semver strings: -1 when a < b, 0 when equal, 1 when
// a > b. A leading "v" is ignored.
func Compare(a, b string) int {
	av, bv := parse(a), parse(b)
	for i := 0; i < 3; i++ {
		if av[i] < bv[i] {
			return -1
		}
		if av[i] > bv[i] {
			return 1
		}
	}
	return 0
}

func parse(v string) [3]int {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	var out [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		fmt.Sscanf(parts[i], "%d", &out[i])
	}
	return out
}
