/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		&models.Settings{},
		&models.Station{},
		&models.Relay{},
		&models.MediaItem{},
		&models.StationQueue{},
		&models.Listener{},
		&models.WebhookTarget{},
		&models.WebhookLog{},
	)
}
