/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/cache"
	"github.com/friendsincode/mimir_nowplaying/internal/listeners"
	"github.com/friendsincode/mimir_nowplaying/internal/logbuffer"
	"github.com/friendsincode/mimir_nowplaying/internal/models"
	"github.com/friendsincode/mimir_nowplaying/internal/nowplaying"
	"github.com/friendsincode/mimir_nowplaying/internal/settings"
	"github.com/friendsincode/mimir_nowplaying/internal/version"
	"github.com/friendsincode/mimir_nowplaying/internal/webhooks"
)

// API exposes HTTP handlers.
type API struct {
	db            *gorm.DB
	cache         *cache.Cache
	settings      *settings.Store
	listeners     *listeners.Store
	trigger       *nowplaying.TriggerQueue
	webhooks      *webhooks.Service
	logs          *logbuffer.Buffer
	internalToken string
	logger        zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, npCache *cache.Cache, settingsStore *settings.Store, listenerStore *listeners.Store, trigger *nowplaying.TriggerQueue, webhookSvc *webhooks.Service, logs *logbuffer.Buffer, internalToken string, logger zerolog.Logger) *API {
	return &API{
		db:            db,
		cache:         npCache,
		settings:      settingsStore,
		listeners:     listenerStore,
		trigger:       trigger,
		webhooks:      webhookSvc,
		logs:          logs,
		internalToken: internalToken,
		logger:        logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the chi router.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/nowplaying", a.handleNowPlayingAll)
		r.Get("/nowplaying/{stationID}", a.handleNowPlayingStation)
		r.Get("/stations", a.handleStationsList)

		// Internal endpoints (streaming process callbacks)
		r.Group(func(ir chi.Router) {
			ir.Use(a.requireInternalToken())
			ir.Post("/internal/stations/{stationID}/feedback", a.handleStationFeedback)
			ir.Get("/internal/stations/{stationID}/listeners", a.handleStationListeners)
			ir.Post("/internal/webhooks", a.handleWebhookCreate)
			ir.Post("/internal/webhooks/{webhookID}/test", a.handleWebhookTest)
			ir.Put("/internal/settings/analytics", a.handleSetAnalyticsLevel)
			ir.Get("/internal/logs", a.handleLogs)
		})
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleLogs serves recent in-memory log entries for diagnostics.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logs == nil {
		writeJSON(w, http.StatusOK, []logbuffer.Entry{})
		return
	}

	q := logbuffer.Query{
		Level:     r.URL.Query().Get("level"),
		Component: r.URL.Query().Get("component"),
		StationID: r.URL.Query().Get("station_id"),
		Limit:     100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		q.Limit = limit
	}

	writeJSON(w, http.StatusOK, a.logs.Recent(q))
}

// handleNowPlayingAll returns the aggregate snapshot list for every enabled
// station: the Redis cache copy when present, the settings-row copy otherwise.
func (a *API) handleNowPlayingAll(w http.ResponseWriter, r *http.Request) {
	if snapshots, ok := a.cache.GetNowPlaying(r.Context()); ok {
		writeJSON(w, http.StatusOK, snapshots)
		return
	}

	snapshots, err := a.settings.ReadNowPlaying(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("read nowplaying fallback failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if snapshots == nil {
		snapshots = []*nowplaying.Snapshot{}
	}

	writeJSON(w, http.StatusOK, snapshots)
}

// handleNowPlayingStation returns the stored snapshot for one station.
func (a *API) handleNowPlayingStation(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")
	if stationID == "" {
		writeError(w, http.StatusBadRequest, "station_id_required")
		return
	}

	var station models.Station
	result := a.db.WithContext(r.Context()).First(&station, "id = ?", stationID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get station failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if len(station.NowPlaying) == 0 {
		writeError(w, http.StatusNotFound, "no_snapshot")
		return
	}

	var snapshot nowplaying.Snapshot
	if err := json.Unmarshal(station.NowPlaying, &snapshot); err != nil {
		a.logger.Error().Err(err).Str("station_id", stationID).Msg("stored snapshot is corrupt")
		writeError(w, http.StatusInternalServerError, "corrupt_snapshot")
		return
	}

	writeJSON(w, http.StatusOK, &snapshot)
}

func (a *API) handleStationsList(w http.ResponseWriter, r *http.Request) {
	var stations []models.Station
	if err := a.db.WithContext(r.Context()).
		Where("enabled = ?", true).
		Order("name ASC").
		Find(&stations).Error; err != nil {
		a.logger.Error().Err(err).Msg("list stations failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	type stationInfo struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ShortName   string `json:"shortcode"`
		ListenURL   string `json:"listen_url"`
		FrontendURL string `json:"frontend_url,omitempty"`
	}

	result := make([]stationInfo, 0, len(stations))
	for _, s := range stations {
		result = append(result, stationInfo{
			ID:          s.ID,
			Name:        s.Name,
			ShortName:   s.ShortName,
			ListenURL:   s.ListenURL,
			FrontendURL: s.FrontendURL,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// handleStationFeedback receives a track-change callback from the streaming
// process and schedules the deferred re-check.
func (a *API) handleStationFeedback(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")
	if stationID == "" {
		writeError(w, http.StatusBadRequest, "station_id_required")
		return
	}

	var hints nowplaying.TrackChangeHints
	if err := json.NewDecoder(r.Body).Decode(&hints); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var station models.Station
	result := a.db.WithContext(r.Context()).First(&station, "id = ?", stationID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("load station for feedback failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if !station.Enabled {
		writeError(w, http.StatusConflict, "station_disabled")
		return
	}

	if err := a.trigger.QueueStation(r.Context(), &station, hints); err != nil {
		a.logger.Error().Err(err).Str("station_id", stationID).Msg("queue station failed")
		writeError(w, http.StatusInternalServerError, "queue_failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleStationListeners returns the stored listener-record count for one
// station. Counts are only collected at the full analytics level.
func (a *API) handleStationListeners(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")
	if stationID == "" {
		writeError(w, http.StatusBadRequest, "station_id_required")
		return
	}

	var station models.Station
	result := a.db.WithContext(r.Context()).First(&station, "id = ?", stationID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("load station for listener count failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	count, err := a.listeners.CountByStation(r.Context(), stationID)
	if err != nil {
		a.logger.Error().Err(err).Str("station_id", stationID).Msg("count listeners failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"station_id": stationID,
		"count":      count,
	})
}

// handleWebhookCreate registers a webhook target. The generated secret is
// returned once in the response and never again.
func (a *API) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StationID string `json:"station_id"`
		URL       string `json:"url"`
		Events    string `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}

	var station models.Station
	result := a.db.WithContext(r.Context()).First(&station, "id = ?", req.StationID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("load station for webhook create failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	target := models.NewWebhookTarget(req.StationID, req.URL, req.Events)
	if err := a.db.WithContext(r.Context()).Create(target).Error; err != nil {
		a.logger.Error().Err(err).Msg("create webhook target failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// The signing secret is excluded from the model's JSON form; surface it
	// once here so the caller can record it.
	writeJSON(w, http.StatusCreated, struct {
		*models.WebhookTarget
		Secret string `json:"secret"`
	}{target, target.Secret})
}

// handleSetAnalyticsLevel updates the global analytics collection level. The
// aggregate cache is invalidated so the next read reflects the new detail
// level.
func (a *API) handleSetAnalyticsLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level models.AnalyticsLevel `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !models.IsValidAnalyticsLevel(req.Level) {
		writeError(w, http.StatusBadRequest, "invalid_level")
		return
	}

	if err := a.settings.SetAnalyticsLevel(r.Context(), req.Level); err != nil {
		a.logger.Error().Err(err).Msg("set analytics level failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.cache.Invalidate(r.Context()); err != nil {
		a.logger.Warn().Err(err).Msg("failed to invalidate nowplaying cache")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "updated",
		"level":  string(req.Level),
	})
}

// handleWebhookTest fires a test delivery against a configured webhook target.
func (a *API) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	if webhookID == "" {
		writeError(w, http.StatusBadRequest, "webhook_id_required")
		return
	}

	var target models.WebhookTarget
	result := a.db.WithContext(r.Context()).First(&target, "id = ?", webhookID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.webhooks.TestWebhook(&target); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (a *API) requireInternalToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.internalToken == "" {
				writeError(w, http.StatusForbidden, "internal_api_disabled")
				return
			}
			token := r.Header.Get("X-Mimir-Internal-Token")
			if subtle.ConstantTimeCompare([]byte(token), []byte(a.internalToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
