/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package listeners

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/nowplaying"
)

// Store owns the per-station listener records.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a listener store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "listeners").Logger(),
	}
}

// ReplaceAll swaps the station's listener rows for the given client list in
// one transaction.
func (s *Store) ReplaceAll(ctx context.Context, stationID string, clients []nowplaying.Client) error {
	rows := make([]models.Listener, 0, len(clients))
	for _, client := range clients {
		rows = append(rows, models.Listener{
			ID:          uuid.NewString(),
			StationID:   stationID,
			Mount:       client.Mount,
			IP:          client.IP,
			UserAgent:   client.UserAgent,
			ConnectedAt: client.ConnectedAt,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("station_id = ?", stationID).Delete(&models.Listener{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("replace listeners for station %s: %w", stationID, err)
	}

	s.logger.Debug().Str("station_id", stationID).Int("count", len(rows)).Msg("listener records replaced")
	return nil
}

// CountByStation returns the stored listener count for a station.
func (s *Store) CountByStation(ctx context.Context, stationID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Listener{}).
		Where("station_id = ?", stationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}
