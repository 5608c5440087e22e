package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidfun_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kidfun_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Session metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidfun_sessions_started_total",
			Help: "Total sessions started",
		},
	)

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidfun_sessions_ended_total",
			Help: "Total sessions ended",
		},
		[]string{"reason"},
	)

	Heartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidfun_heartbeats_total",
			Help: "Total heartbeats accepted",
		},
	)

	BonusMinutesGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidfun_bonus_minutes_granted_total",
			Help: "Total bonus minutes added to active sessions",
		},
	)

	WarningsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidfun_warnings_total",
			Help: "Total warnings recorded",
		},
		[]string{"type"},
	)

	// Realtime metrics
	ChannelEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidfun_channel_events_total",
			Help: "Total events published on family channels",
		},
		[]string{"type"},
	)

	ChannelPublishErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidfun_channel_publish_errors_total",
			Help: "Family channel publish failures",
		},
	)

	ActiveSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kidfun_active_subscriptions",
			Help: "Number of live family channel subscriptions",
		},
		[]string{"role"},
	)

	// Resolver metrics
	ResolverCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidfun_resolver_cache_hits_total",
			Help: "Device resolver cache hits",
		},
	)

	ResolverCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidfun_resolver_cache_misses_total",
			Help: "Device resolver cache misses",
		},
	)

	// Retention metrics
	RowsPurged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidfun_retention_rows_purged_total",
			Help: "Rows deleted by the retention sweeper",
		},
		[]string{"table"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SessionsStarted,
		SessionsEnded,
		Heartbeats,
		BonusMinutesGranted,
		WarningsFired,
		ChannelEvents,
		ChannelPublishErrors,
		ActiveSubscriptions,
		ResolverCacheHits,
		ResolverCacheMisses,
		RowsPurged,
	)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
