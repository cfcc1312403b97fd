/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/nowplaying"
)

// Store reads and writes the singleton settings row.
type Store struct {
	db *gorm.DB
}

// NewStore creates a settings store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AnalyticsLevel returns the current analytics collection level. Read per
// call so changes apply without a restart.
func (s *Store) AnalyticsLevel(ctx context.Context) (models.AnalyticsLevel, error) {
	settings, err := models.GetSettings(s.db.WithContext(ctx))
	if err != nil {
		return models.AnalyticsAnonymous, err
	}
	if !models.IsValidAnalyticsLevel(settings.Analytics) {
		return models.AnalyticsAnonymous, nil
	}
	return settings.Analytics, nil
}

// SetAnalyticsLevel updates the analytics collection level.
func (s *Store) SetAnalyticsLevel(ctx context.Context, level models.AnalyticsLevel) error {
	if !models.IsValidAnalyticsLevel(level) {
		return fmt.Errorf("invalid analytics level: %s", level)
	}
	settings, err := models.GetSettings(s.db.WithContext(ctx))
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(settings).
		Update("analytics", level).Error
}

// WriteNowPlaying persists the aggregate snapshot list onto the settings row.
func (s *Store) WriteNowPlaying(ctx context.Context, snapshots []*nowplaying.Snapshot) error {
	data, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("marshal aggregate nowplaying: %w", err)
	}

	settings, err := models.GetSettings(s.db.WithContext(ctx))
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(settings).
		Update("now_playing", models.JSON(data)).Error
}

// ReadNowPlaying returns the last persisted aggregate snapshot list, or nil
// when no sweep has run yet.
func (s *Store) ReadNowPlaying(ctx context.Context) ([]*nowplaying.Snapshot, error) {
	settings, err := models.GetSettings(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if len(settings.NowPlaying) == 0 {
		return nil, nil
	}

	var snapshots []*nowplaying.Snapshot
	if err := json.Unmarshal(settings.NowPlaying, &snapshots); err != nil {
		return nil, fmt.Errorf("unmarshal aggregate nowplaying: %w", err)
	}
	return snapshots, nil
}
