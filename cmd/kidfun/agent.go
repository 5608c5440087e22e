package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kidfun/internal/agent"
	"kidfun/internal/core"
	"kidfun/internal/logging"
	"kidfun/internal/realtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	agentServer       string
	agentDeviceCode   string
	agentInterval     time.Duration
	agentAppName      string
	agentActivityType string
	agentNoSubscribe  bool
	agentLogLevel     string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the child agent on this device",
	Long: `Run the child agent: it opens a session for this device, heartbeats on an
interval, applies extensions the parents approve and locks the workstation
when the daily budget is used up.`,
	Example: `  kidfun agent --server https://kidfun.example.com --device-code 9F03A2BC`,
	Args:    cobra.NoArgs,
	RunE:    runAgent,
}

func init() {
	defaults := agent.DefaultConfig()
	agentCmd.Flags().StringVar(&agentServer, "server", "", "KidFun server base URL (required)")
	agentCmd.Flags().StringVar(&agentDeviceCode, "device-code", os.Getenv("KIDFUN_DEVICE_CODE"), "Device code (or KIDFUN_DEVICE_CODE)")
	agentCmd.Flags().DurationVar(&agentInterval, "interval", defaults.HeartbeatInterval, "Heartbeat interval")
	agentCmd.Flags().StringVar(&agentAppName, "app-name", "", "Application name recorded on usage logs")
	agentCmd.Flags().StringVar(&agentActivityType, "activity-type", "", "Activity type recorded on usage logs")
	agentCmd.Flags().BoolVar(&agentNoSubscribe, "no-subscribe", false, "Do not listen for extension responses")
	agentCmd.Flags().StringVar(&agentLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	agentCmd.MarkFlagRequired("server")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg := agent.DefaultConfig()
	cfg.ServerURL = agentServer
	cfg.DeviceCode = agentDeviceCode
	cfg.HeartbeatInterval = agentInterval
	cfg.AppName = agentAppName
	cfg.ActivityType = agentActivityType
	cfg.Subscribe = !agentNoSubscribe
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: "text",
		Level:  logging.ParseLevel(agentLogLevel),
	}).With("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := agent.NewHTTPClient(cfg.ServerURL, cfg.DeviceCode, logger)

	var events <-chan realtime.Envelope
	if cfg.Subscribe {
		url, err := client.WebSocketURL()
		if err != nil {
			return err
		}
		subscriber := agent.NewSubscriber(url, logger)
		go subscriber.Run(ctx)
		events = subscriber.Events()
	}

	runner := agent.NewRunner(client, agent.NewPlatform(logger), core.RealClock{}, events, cfg, logger)

	logger.Info("Agent started", "server", cfg.ServerURL, "interval", cfg.HeartbeatInterval)
	err := runner.Run(ctx)
	switch {
	case err == nil:
		logger.Info("Agent stopped")
		return nil
	case errors.Is(err, agent.ErrTimeExpired):
		color.New(color.FgYellow, color.Bold).Println("Screen time is used up for today.")
		return nil
	case errors.Is(err, agent.ErrDeviceRemoved):
		color.New(color.FgRed, color.Bold).Println("This device was unlinked by a parent.")
		return nil
	default:
		return err
	}
}
