/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/events"
	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/nowplaying"
	"github.com/friendsincode/mimir_nowplaying/internal/telemetry"
)

// WebhookPayload is the payload sent to webhook endpoints.
type WebhookPayload struct {
	Event      string               `json:"event"`
	Timestamp  time.Time            `json:"timestamp"`
	StationID  string               `json:"station_id"`
	Standalone bool                 `json:"standalone"`
	NowPlaying *nowplaying.Snapshot `json:"now_playing,omitempty"`
}

// Service delivers now-playing webhooks.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a new webhook service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start begins listening for update events to trigger webhooks.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("webhook service starting")

	updates := s.bus.Subscribe(events.EventNowPlayingUpdated)
	defer s.bus.Unsubscribe(events.EventNowPlayingUpdated, updates)

	s.logger.Info().Msg("webhook service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return

		case payload := <-updates:
			s.handleNowPlaying(ctx, payload)
		}
	}
}

// handleNowPlaying fans an update event out to the station's webhook targets.
func (s *Service) handleNowPlaying(ctx context.Context, payload events.Payload) {
	stationID, ok := payload["station_id"].(string)
	if !ok {
		return
	}

	snapshot, ok := payload["snapshot"].(*nowplaying.Snapshot)
	if !ok || snapshot == nil {
		return
	}

	standalone, _ := payload["standalone"].(bool)

	var targets []models.WebhookTarget
	if err := s.db.Where("station_id = ? AND active = ?", stationID, true).Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Str("station", stationID).Msg("failed to fetch webhooks")
		return
	}

	for _, target := range targets {
		if !s.targetHandlesEvent(target, string(models.WebhookEventNowPlaying)) {
			continue
		}
		if standalone && !target.TriggerOnStandalone {
			continue
		}

		go s.sendWebhook(ctx, target, snapshot, standalone)
	}
}

// targetHandlesEvent checks if a webhook is subscribed to an event type.
func (s *Service) targetHandlesEvent(target models.WebhookTarget, eventType string) bool {
	if target.Events == "" {
		return true // Default: handle all events
	}
	for _, e := range strings.Split(target.Events, ",") {
		if strings.TrimSpace(e) == eventType {
			return true
		}
	}
	return false
}

// sendWebhook sends a single webhook request.
func (s *Service) sendWebhook(ctx context.Context, target models.WebhookTarget, snapshot *nowplaying.Snapshot, standalone bool) {
	payload := WebhookPayload{
		Event:      string(models.WebhookEventNowPlaying),
		Timestamp:  time.Now().UTC(),
		StationID:  target.StationID,
		Standalone: standalone,
		NowPlaying: snapshot,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", target.ID).Msg("failed to marshal webhook payload")
		return
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", target.ID).Msg("failed to create webhook request")
		s.logDelivery(target, string(models.WebhookEventNowPlaying), http.StatusInternalServerError, err.Error(), time.Since(start))
		return
	}

	s.setHeaders(req, body, target, string(models.WebhookEventNowPlaying))

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", target.ID).Str("url", target.URL).Msg("webhook delivery failed")
		s.logDelivery(target, string(models.WebhookEventNowPlaying), 0, err.Error(), time.Since(start))
		telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}
	defer resp.Body.Close()

	s.logDelivery(target, string(models.WebhookEventNowPlaying), resp.StatusCode, "", time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
		s.logger.Debug().Str("webhook", target.ID).Int("status", resp.StatusCode).Msg("webhook delivered")
	} else {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn().Str("webhook", target.ID).Int("status", resp.StatusCode).Msg("webhook returned error status")
	}
}

func (s *Service) setHeaders(req *http.Request, body []byte, target models.WebhookTarget, eventType string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mimir-NowPlaying-Webhook/1.0")
	req.Header.Set("X-Mimir-Event", eventType)
	req.Header.Set("X-Mimir-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if target.Secret != "" {
		req.Header.Set("X-Mimir-Signature", s.signPayload(body, target.Secret))
	}
}

// signPayload creates an HMAC-SHA256 signature.
func (s *Service) signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// logDelivery records a webhook delivery attempt.
func (s *Service) logDelivery(target models.WebhookTarget, eventType string, statusCode int, errorMsg string, took time.Duration) {
	entry := &models.WebhookLog{
		ID:         uuid.NewString(),
		TargetID:   target.ID,
		Event:      eventType,
		StatusCode: statusCode,
		Error:      errorMsg,
		Duration:   int(took.Milliseconds()),
	}

	if err := s.db.Create(entry).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to log webhook delivery")
	}
}

// TestWebhook sends a test payload to a webhook.
func (s *Service) TestWebhook(target *models.WebhookTarget) error {
	now := time.Now().UTC()
	payload := WebhookPayload{
		Event:     "test",
		Timestamp: now,
		StationID: target.StationID,
		NowPlaying: &nowplaying.Snapshot{
			Station: nowplaying.SnapshotStation{
				ID:   target.StationID,
				Name: "Test Station",
			},
			NowPlaying: nowplaying.SnapshotNowPlaying{
				Song: nowplaying.SnapshotSong{
					Title:  "Test Track",
					Artist: "Test Artist",
					Text:   "Test Artist - Test Track",
				},
				Duration: 180,
				PlayedAt: now,
			},
			Online:    true,
			Cache:     nowplaying.CacheEvent,
			UpdatedAt: now,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	s.setHeaders(req, body, *target, "test")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
