package models

import (
	"database/sql/driver"
	"errors"
	"time"
)

// JSON is a raw JSON column. gorm stores it as jsonb on postgres and text
// elsewhere.
type JSON []byte

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return errors.New("models: unsupported JSON column source type")
	}
	return nil
}

// Station is one configured broadcast channel.
type Station struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	ShortName string `gorm:"uniqueIndex"`
	Enabled   bool   `gorm:"index;default:true"`

	// ListenURL is the public stream URL, possibly relative to the platform
	// base URL (e.g. "/listen/wvbr/radio.mp3").
	ListenURL string

	// FrontendURL is the status endpoint of the station's streaming frontend
	// (e.g. "http://icecast:8000/status-json.xsl").
	FrontendURL string

	// NowPlaying holds the last persisted snapshot as JSON.
	NowPlaying JSON `gorm:"type:jsonb"`

	Relays []Relay `gorm:"foreignKey:StationID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Relay is a remote rebroadcast service whose view of the station is folded
// into the nowplaying result after the frontend, in Position order.
type Relay struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	StationID string `gorm:"type:uuid;index"`
	Name      string
	BaseURL   string
	Position  int  `gorm:"index"`
	Enabled   bool `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MediaItem is the minimal media record the pipeline references.
type MediaItem struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	StationID string `gorm:"type:uuid;index"`
	Title     string `gorm:"index"`
	Artist    string `gorm:"index"`
	Duration  time.Duration
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StationQueue is a scheduled-to-play media reference for a station.
type StationQueue struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	StationID  string  `gorm:"type:uuid;index"`
	MediaID    *string `gorm:"type:uuid;index"`
	PlaylistID *string `gorm:"type:uuid"`

	// Title and Artist identify the cued song even before a media link is
	// attached; a scheduler may cue by name and the link is backfilled when
	// the streaming process reports the track.
	Title  string `gorm:"index"`
	Artist string

	Media *MediaItem `gorm:"foreignKey:MediaID"`

	CuedAt       *time.Time
	SentToAutodj bool
	PlayedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Listener is one connected stream client, replaced wholesale per station on
// each detailed nowplaying update.
type Listener struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	StationID   string `gorm:"type:uuid;index"`
	Mount       string
	IP          string `gorm:"type:varchar(45)"`
	UserAgent   string `gorm:"type:varchar(255)"`
	ConnectedAt time.Time
	CreatedAt   time.Time
}
