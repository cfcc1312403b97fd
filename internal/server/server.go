/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_nowplaying/internal/api"
	"github.com/friendsincode/mimir_nowplaying/internal/cache"
	"github.com/friendsincode/mimir_nowplaying/internal/config"
	"github.com/friendsincode/mimir_nowplaying/internal/db"
	"github.com/friendsincode/mimir_nowplaying/internal/dispatch"
	"github.com/friendsincode/mimir_nowplaying/internal/events"
	"github.com/friendsincode/mimir_nowplaying/internal/frontend"
	"github.com/friendsincode/mimir_nowplaying/internal/leadership"
	"github.com/friendsincode/mimir_nowplaying/internal/listeners"
	"github.com/friendsincode/mimir_nowplaying/internal/locks"
	"github.com/friendsincode/mimir_nowplaying/internal/logbuffer"
	"github.com/friendsincode/mimir_nowplaying/internal/nowplaying"
	"github.com/friendsincode/mimir_nowplaying/internal/queue"
	"github.com/friendsincode/mimir_nowplaying/internal/remote"
	"github.com/friendsincode/mimir_nowplaying/internal/settings"
	"github.com/friendsincode/mimir_nowplaying/internal/telemetry"
	"github.com/friendsincode/mimir_nowplaying/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	redis      *redis.Client
	cache      *cache.Cache
	bus        *events.Bus
	updater    *nowplaying.Updater
	sweeper    *nowplaying.Sweeper
	trigger    *nowplaying.TriggerQueue
	webhookSvc *webhooks.Service
	election   *leadership.Election
	logBuf     *logbuffer.Buffer
	api        *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logBuf may be nil when
// the caller does not capture logs.
func New(cfg *config.Config, logger zerolog.Logger, logBuf *logbuffer.Buffer) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(telemetry.TracingMiddleware("mimir-nowplaying-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
		logBuf: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis backs the station locks, the aggregate cache, and the delayed
	// dispatch queue. When unreachable they all fall back to in-process mode.
	s.redis = s.connectRedis()
	if s.redis != nil {
		s.DeferClose(func() error { return s.redis.Close() })
	}

	s.cache = cache.New(s.redis, cache.DefaultConfig(), s.logger)
	lockMgr := locks.New(s.redis, s.logger)
	dispatcher := dispatch.New(s.redis, s.logger)
	s.DeferClose(dispatcher.Close)

	settingsStore := settings.NewStore(database)
	listenerStore := listeners.NewStore(database, s.logger)
	queueStore := queue.NewStore(database)

	aggregator := nowplaying.NewAggregator(s.logger,
		nowplaying.NewFrontendContributor(frontend.New(s.logger)),
		nowplaying.NewRemoteContributor(remote.New(s.logger)),
	)

	s.updater = nowplaying.NewUpdater(database, lockMgr, aggregator, settingsStore, listenerStore, s.bus, s.cfg.BaseURL, s.logger)
	s.sweeper = nowplaying.NewSweeper(database, s.updater, s.cache, settingsStore, s.bus, s.cfg.SweepInterval, s.logger)
	s.trigger = nowplaying.NewTriggerQueue(database, lockMgr, queueStore, dispatcher, s.updater, s.bus, s.logger)
	s.webhookSvc = webhooks.NewService(database, s.bus, s.logger)

	// With Redis present, replicas elect one sweeper; without it the single
	// instance sweeps unconditionally.
	if s.redis != nil {
		s.election = leadership.NewElection(s.redis, s.logger)
		s.sweeper.SetLeaderGate(s.election)
	}

	s.api = api.New(database, s.cache, settingsStore, listenerStore, s.trigger, s.webhookSvc, s.logBuf, s.cfg.InternalToken, s.logger)

	return nil
}

// connectRedis dials Redis and verifies the connection. Returns nil when
// Redis is unreachable so callers degrade to in-process fallbacks.
func (s *Server) connectRedis() *redis.Client {
	if s.cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Str("addr", s.cfg.RedisAddr).Msg("Redis unreachable, using in-process locks, cache and dispatch")
		_ = client.Close()
		return nil
	}

	s.logger.Info().Str("addr", s.cfg.RedisAddr).Msg("Redis connected")
	return client
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Sweeper exposes the sweep loop for one-shot invocations.
func (s *Server) Sweeper() *nowplaying.Sweeper {
	return s.sweeper
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Start launches the background workers: the sweep loop, the deferred
// re-check consumer, and the webhook dispatcher.
func (s *Server) Start() {
	s.startBackgroundWorkers()
}

func (s *Server) startBackgroundWorkers() {
	if s.bgCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.election != nil {
		s.election.Start(ctx)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.sweeper.Start(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.trigger.Start(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.webhookSvc.Start(ctx)
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	if s.election != nil {
		if err := s.election.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to stop leader election")
		}
	}
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Mount("/", s.api.Router())
}
