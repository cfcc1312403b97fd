/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/models"
)

// Store owns the upcoming-queue entries.
type Store struct {
	db *gorm.DB
}

// NewStore creates a queue store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindUpcomingBySong returns the not-yet-played queue entry for the media's
// song at the station, or nil when none exists. Entries cued without a media
// link yet are matched by song title/artist so the link can be backfilled.
func (s *Store) FindUpcomingBySong(ctx context.Context, stationID string, media *models.MediaItem) (*models.StationQueue, error) {
	var entry models.StationQueue
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND played_at IS NULL", stationID).
		Where("media_id = ? OR (media_id IS NULL AND title = ? AND artist = ?)", media.ID, media.Title, media.Artist).
		Order("created_at ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find upcoming queue entry: %w", err)
	}
	return &entry, nil
}

// Save persists the entry, assigning an id on first save.
func (s *Store) Save(ctx context.Context, entry *models.StationQueue) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Save(entry).Error
}
