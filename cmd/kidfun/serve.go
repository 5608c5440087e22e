package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kidfun/config"
	"kidfun/internal/api"
	"kidfun/internal/auth"
	"kidfun/internal/bot"
	"kidfun/internal/core"
	"kidfun/internal/devices"
	"kidfun/internal/logging"
	"kidfun/internal/scheduler"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	webhookPath     = "/telegram/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the KidFun HTTP server",
	Long:  `Serve the child and parent HTTP APIs, the family WebSocket channel and Prometheus metrics.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	location, err := cfg.Engine.Location()
	if err != nil {
		return err
	}

	logger.Info("Starting KidFun", "config", configPath, "timezone", location.String())

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()
	logger.Info("Database initialized", "path", cfg.Database.Path)

	clock := core.NewMonotonicClock(core.RealClock{})

	manager := logging.NewSessionManagerLogger(core.NewSessionManager(db, core.ManagerConfig{
		DefaultDailyMinutes: cfg.Engine.DefaultDailyMinutes,
		WarningThresholds:   cfg.Engine.WarningThresholds,
		Location:            location,
		Logger:              logger,
	}), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub, channel, broker, err := openChannel(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer hub.Close()
	defer broker.Close()
	logger.Info("Family channel initialized", "broker", cfg.Realtime.Broker)

	resolver := devices.NewResolver(db, cfg.Devices.CacheSize, cfg.Devices.CacheTTL, logger)
	unlinker := devices.NewUnlinker(db, manager, resolver, channel, clock, logger)
	authService := auth.NewService(db, cfg.Security.JWTSecret, cfg.Security.TokenTTL)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	router := api.NewRouter(api.RouterConfig{
		Storage:     db,
		Manager:     manager,
		Resolver:    resolver,
		Unlinker:    unlinker,
		Channel:     channel,
		Auth:        authService,
		Clock:       clock,
		Location:    location,
		Logger:      logger,
		MetricsPath: metricsPath,
		Health:      db,
	})

	if cfg.Telegram.Enabled {
		stopBot, err := startTelegram(ctx, cfg.Telegram, router, channel, db, clock, location, logger)
		if err != nil {
			return err
		}
		defer stopBot()
	}

	sweeper := scheduler.NewSweeper(db, scheduler.RetentionPolicy{
		UsageLogDays: cfg.Retention.UsageLogDays,
		WarningDays:  cfg.Retention.WarningDays,
	}, cfg.Retention.SweepInterval, clock, logger)
	go sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received, gracefully stopping...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
		return fmt.Errorf("could not stop server gracefully: %w", err)
	}

	logger.Info("KidFun stopped")
	return nil
}

// startTelegram runs the parent bot over a webhook on router, or long
// polling when no webhook URL is configured
func startTelegram(ctx context.Context, cfg config.TelegramConfig, router *gin.Engine, channel bot.Channel, stats bot.Stats, clock core.Clock, location *time.Location, logger *slog.Logger) (func(), error) {
	telegram, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	parentBot := bot.NewBot(telegram, channel, stats, cfg, clock, location, logger)
	go func() {
		if err := parentBot.Run(ctx); err != nil {
			logger.Error("Telegram bot stopped", "error", err)
		}
	}()

	if cfg.WebhookURL != "" {
		webhook, err := tgbotapi.NewWebhook(cfg.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram webhook url: %w", err)
		}
		if _, err := telegram.Request(webhook); err != nil {
			return nil, fmt.Errorf("failed to set webhook: %w", err)
		}
		router.POST(webhookPath, bot.NewWebhookHandler(parentBot, cfg.WebhookSecret, logger).HandleWebhook)
		logger.Info("Telegram webhook configured", "url", cfg.WebhookURL, "username", telegram.Self.UserName)
		return func() {}, nil
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	go parentBot.Poll(ctx, telegram.GetUpdatesChan(updateConfig))
	logger.Info("Telegram long polling started", "username", telegram.Self.UserName)

	return telegram.StopReceivingUpdates, nil
}
