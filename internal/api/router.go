package api

import (
	"log/slog"
	"time"

	"kidfun/internal/api/handlers"
	"kidfun/internal/api/middleware"
	"kidfun/internal/auth"
	"kidfun/internal/core"
	"kidfun/internal/devices"
	"kidfun/internal/metrics"
	"kidfun/internal/realtime"
	"kidfun/internal/storage"

	"github.com/gin-gonic/gin"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Storage  storage.Storage
	Manager  core.SessionManagerInterface
	Resolver *devices.Resolver
	Unlinker *devices.Unlinker
	Channel  *realtime.Channel
	Auth     *auth.Service
	Clock    core.Clock
	Location *time.Location
	Logger   *slog.Logger

	// MetricsPath serves Prometheus metrics when set
	MetricsPath string
	// Health is pinged by /health; nil reports UP unconditionally
	Health handlers.Pinger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))
	router.Use(middleware.NoiseFilter(config.Logger, "/health", config.MetricsPath))
	router.Use(middleware.Metrics())
	router.Use(middleware.DeviceTrace(config.Logger))
	router.Use(middleware.RequireJSON())

	// Health check (no auth)
	healthHandler := handlers.NewHealthHandler(config.Health)
	router.GET("/health", healthHandler.GetHealth)

	if config.MetricsPath != "" {
		router.GET(config.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	// Child device routes (device code authentication)
	child := router.Group("/child")
	child.Use(middleware.DeviceAuth(config.Resolver))
	{
		childHandler := handlers.NewChildHandler(
			config.Storage,
			config.Manager,
			config.Channel,
			config.Clock,
			config.Logger,
		)
		child.GET("/status", childHandler.GetStatus)
		child.POST("/session/start", childHandler.StartSession)
		child.POST("/session/heartbeat", childHandler.Heartbeat)
		child.POST("/session/end", childHandler.EndSession)
		child.POST("/bonus", childHandler.AddBonus)
		child.POST("/warnings", childHandler.RecordWarning)
		child.POST("/extension/request", childHandler.RequestExtension)
		child.GET("/ws", childHandler.Subscribe)
	}

	v1 := router.Group("/v1")

	// Parent login (PUBLIC - no auth required)
	authHandler := handlers.NewAuthHandler(config.Auth, config.Logger)
	v1.POST("/auth/login", authHandler.Login)

	// Parent routes (bearer token authentication)
	parent := v1.Group("")
	parent.Use(middleware.ParentAuth(config.Auth))
	{
		parentHandler := handlers.NewParentHandler(config.Channel, config.Logger)
		parent.POST("/extension/respond", parentHandler.RespondExtension)
		parent.GET("/ws", parentHandler.Subscribe)

		statsHandler := handlers.NewStatsHandler(
			config.Storage,
			config.Clock,
			config.Location,
			config.Logger,
		)
		parent.GET("/profiles/:id/usage", statsHandler.GetUsage)
		parent.GET("/profiles/:id/warnings", statsHandler.ListWarnings)

		devicesHandler := handlers.NewDevicesHandler(config.Unlinker, config.Logger)
		parent.DELETE("/devices/:id", devicesHandler.UnlinkDevice)
	}

	return router
}
