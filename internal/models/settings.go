/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"gorm.io/gorm"
)

// AnalyticsLevel controls how much listener detail is collected.
type AnalyticsLevel string

const (
	// AnalyticsFull collects aggregate counts plus per-client records.
	AnalyticsFull AnalyticsLevel = "full"
	// AnalyticsAnonymous collects aggregate counts only.
	AnalyticsAnonymous AnalyticsLevel = "anonymous"
	// AnalyticsNone disables listener collection entirely.
	AnalyticsNone AnalyticsLevel = "none"
)

// IsDetailed reports whether per-client listener records should be stored.
func (l AnalyticsLevel) IsDetailed() bool {
	return l == AnalyticsFull
}

// Settings stores runtime-configurable platform settings.
// Uses singleton pattern with a fixed ID=1 row.
type Settings struct {
	ID        int            `gorm:"primaryKey"`
	Analytics AnalyticsLevel `gorm:"type:varchar(16);default:'full'"`

	// NowPlaying holds the aggregate snapshot list written after each sweep.
	NowPlaying JSON `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (Settings) TableName() string {
	return "settings"
}

// ValidAnalyticsLevels contains the allowed values for the analytics setting.
var ValidAnalyticsLevels = []AnalyticsLevel{AnalyticsFull, AnalyticsAnonymous, AnalyticsNone}

// IsValidAnalyticsLevel checks if a value is a valid analytics level.
func IsValidAnalyticsLevel(val AnalyticsLevel) bool {
	for _, v := range ValidAnalyticsLevels {
		if v == val {
			return true
		}
	}
	return false
}

// GetSettings retrieves the singleton settings row, creating it if it doesn't exist.
func GetSettings(db *gorm.DB) (*Settings, error) {
	var settings Settings
	result := db.FirstOrCreate(&settings, Settings{ID: 1})
	if result.Error != nil {
		return nil, result.Error
	}
	if settings.Analytics == "" {
		settings.Analytics = AnalyticsFull
	}
	return &settings, nil
}
