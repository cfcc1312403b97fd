package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/mimir_nowplaying/internal/config"
	"github.com/friendsincode/mimir_nowplaying/internal/logbuffer"
	"github.com/friendsincode/mimir_nowplaying/internal/logging"
	"github.com/friendsincode/mimir_nowplaying/internal/server"
	"github.com/friendsincode/mimir_nowplaying/internal/telemetry"
	"github.com/friendsincode/mimir_nowplaying/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer

	sweepForce bool
)

var rootCmd = &cobra.Command{
	Use:   "mimir",
	Short: "Mimir - Now-playing aggregation service",
	Long:  "Mimir keeps every station's now-playing snapshot current: it polls streaming frontends and relays, persists the result, and notifies webhook consumers.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Mimir server",
	Long:  "Start the HTTP API server, the periodic sweep loop and the webhook dispatcher",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single now-playing sweep and exit",
	RunE:  runSweep,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Mimir version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mimir %s\n", version.Version)
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepForce, "force", false, "bypass frontend response caches")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf = logbuffer.New(2000)
	logger = logging.Setup(cfg.Environment, logbuffer.NewWriter(logBuf, nil))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Msg("Mimir starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "mimir-nowplaying",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logger, logBuf)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	srv.Start()

	checkerCtx, stopChecker := context.WithCancel(context.Background())
	defer stopChecker()
	go version.NewChecker(logger).Start(checkerCtx)

	httpServer := srv.HTTPServer()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Prometheus scrapes a separate private listener.
	metricsServer := &http.Server{Addr: cfg.MetricsBind, Handler: telemetry.Handler()}
	go func() {
		logger.Info().Str("addr", cfg.MetricsBind).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := metricsServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Mimir stopped")
	return nil
}

// runSweep performs one sweep over all enabled stations and exits. Useful
// from cron or for debugging a stuck snapshot.
func runSweep(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	srv, err := server.New(cfg, logger, logBuf)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	srv.Sweeper().Run(ctx, sweepForce)
	return nil
}
