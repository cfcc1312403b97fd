/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package nowplaying

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_nowplaying/internal/models"
)

// Contributor is one source of now-playing data. Contributors run in
// registration order against the shared running result; later contributors
// may overwrite fields set by earlier ones (last-writer-wins).
type Contributor interface {
	Name() string
	Contribute(ctx context.Context, station *models.Station, result *Result, opts BuildOptions) error
}

// FrontendAdapter queries a station's streaming frontend for live state.
type FrontendAdapter interface {
	NowPlaying(ctx context.Context, station *models.Station, opts BuildOptions) (Result, error)
}

// RemoteAdapter folds one relay's view into the running result. It may
// overwrite fields of the result.
type RemoteAdapter interface {
	UpdateNowPlaying(ctx context.Context, result *Result, relay *models.Relay, opts BuildOptions) error
}

// Aggregator collects one canonical raw result from an ordered list of
// contributors. New data sources plug in by registering a contributor;
// the pipeline itself never changes.
type Aggregator struct {
	contributors []Contributor
	logger       zerolog.Logger
}

// NewAggregator creates an aggregator with the given contributors, invoked
// in the given order.
func NewAggregator(logger zerolog.Logger, contributors ...Contributor) *Aggregator {
	return &Aggregator{
		contributors: contributors,
		logger:       logger.With().Str("component", "aggregator").Logger(),
	}
}

// Register appends a contributor after the existing ones.
func (a *Aggregator) Register(c Contributor) {
	a.contributors = append(a.contributors, c)
}

// BuildRaw produces one raw result for the station. Any contributor error
// aborts the build; the caller substitutes BlankResult per the failure
// policy so a misbehaving source never takes down the sweep.
func (a *Aggregator) BuildRaw(ctx context.Context, station *models.Station, opts BuildOptions) (Result, error) {
	result := BlankResult()

	for _, c := range a.contributors {
		if err := c.Contribute(ctx, station, &result, opts); err != nil {
			return Result{}, fmt.Errorf("contributor %s: %w", c.Name(), err)
		}
	}

	return result, nil
}

// frontendContributor seeds the result from the station's streaming frontend.
// It runs first: the frontend is authoritative for live-stream state.
type frontendContributor struct {
	adapter FrontendAdapter
}

// NewFrontendContributor wraps a frontend adapter as the seeding contributor.
func NewFrontendContributor(adapter FrontendAdapter) Contributor {
	return &frontendContributor{adapter: adapter}
}

func (c *frontendContributor) Name() string { return "frontend" }

func (c *frontendContributor) Contribute(ctx context.Context, station *models.Station, result *Result, opts BuildOptions) error {
	seeded, err := c.adapter.NowPlaying(ctx, station, opts)
	if err != nil {
		return err
	}
	*result = seeded
	return nil
}

// remoteContributor folds each enabled relay into the running result in
// Position order.
type remoteContributor struct {
	adapter RemoteAdapter
}

// NewRemoteContributor wraps a remote adapter as the relay-merging contributor.
func NewRemoteContributor(adapter RemoteAdapter) Contributor {
	return &remoteContributor{adapter: adapter}
}

func (c *remoteContributor) Name() string { return "remotes" }

func (c *remoteContributor) Contribute(ctx context.Context, station *models.Station, result *Result, opts BuildOptions) error {
	relays := make([]models.Relay, 0, len(station.Relays))
	for _, relay := range station.Relays {
		if relay.Enabled {
			relays = append(relays, relay)
		}
	}
	sort.SliceStable(relays, func(i, j int) bool { return relays[i].Position < relays[j].Position })

	for i := range relays {
		if err := c.adapter.UpdateNowPlaying(ctx, result, &relays[i], opts); err != nil {
			return err
		}
	}
	return nil
}
