package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NowPlayingUpdatesTotal counts per-station update outcomes.
	NowPlayingUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_nowplaying_updates_total",
		Help: "Completed nowplaying updates by station and outcome.",
	}, []string{"station", "outcome"})

	// NowPlayingUpdateDuration observes per-station update latency.
	NowPlayingUpdateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mimir_nowplaying_update_duration_seconds",
		Help:    "Duration of a single station nowplaying update.",
		Buckets: prometheus.DefBuckets,
	}, []string{"station"})

	// SweepDuration observes full-sweep latency.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mimir_nowplaying_sweep_duration_seconds",
		Help:    "Duration of a full nowplaying sweep over all stations.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// SweepStations tracks how many stations the last sweep produced.
	SweepStations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mimir_nowplaying_sweep_stations",
		Help: "Stations updated by the most recent sweep.",
	})

	// LockContentionTotal counts skipped lock acquisitions by call path.
	LockContentionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_station_lock_contention_total",
		Help: "Non-blocking station lock attempts that found the lock held.",
	}, []string{"path"})

	// WebhookDeliveriesTotal counts webhook delivery outcomes.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_api_requests_total",
		Help: "HTTP requests by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mimir_api_request_duration_seconds",
		Help:    "HTTP request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mimir_api_active_connections",
		Help: "Currently active HTTP requests.",
	})

	// LeaderStatus is 1 while this instance holds the sweep lease.
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mimir_sweep_leader",
		Help: "Whether this instance currently leads the periodic sweep.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
