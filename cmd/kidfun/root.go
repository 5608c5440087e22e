package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"kidfun/config"
	"kidfun/internal/core"
	"kidfun/internal/logging"
	"kidfun/internal/realtime"
	"kidfun/internal/storage/sqlite"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "kidfun",
	Short: "KidFun - screen time budgets for children's devices",
	Long: `KidFun tracks usage sessions on children's devices against a daily
time budget, warns as the budget runs low and lets children ask their
parents for more time.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (KIDFUN_* environment variables also apply)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration shared by all commands
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the SQLite database, applying pending migrations
func openStore(cfg *config.Config) (*sqlite.SQLiteStorage, error) {
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// openChannel builds the family channel over the configured broker. The
// returned broker must be closed by the caller.
func openChannel(ctx context.Context, cfg *config.Config, clock core.Clock, logger *slog.Logger) (*realtime.Hub, *realtime.Channel, realtime.Broker, error) {
	hub := realtime.NewHub(logger)

	var broker realtime.Broker
	switch cfg.Realtime.Broker {
	case config.BrokerRedis:
		client, err := realtime.OpenRedis(cfg.Realtime.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		redisBroker, err := realtime.NewRedisBroker(ctx, client, hub, cfg.Realtime.ChannelPrefix, logger)
		if err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		broker = redisBroker
	default:
		broker = realtime.NewLocalBroker(hub)
	}

	channel := realtime.NewChannel(hub, broker, realtime.ChannelConfig{
		DefaultMinutes: cfg.Engine.ExtensionDefaultMinutes,
		Clock:          clock,
		Logger:         logger,
	})
	return hub, channel, broker, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.FromConfig(cfg.Logging).With("version", version)
}
