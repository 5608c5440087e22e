// Package agent implements the child-side agent that keeps a session open
// against the kidfun server and enforces the remaining budget locally.
package agent

import (
	"errors"
	"time"
)

var (
	ErrMissingDeviceCode = errors.New("device_code is required")
	ErrMissingURL        = errors.New("server_url is required")
	ErrInvalidInterval   = errors.New("heartbeat_interval must be positive")
)

// Config holds the agent configuration
type Config struct {
	ServerURL         string        // kidfun server base URL (e.g., "https://kidfun.example.com")
	DeviceCode        string        // code the device authenticates with
	HeartbeatInterval time.Duration // How often to send heartbeats (default: 60s)
	AppName           string        // recorded on the session's usage logs
	ActivityType      string
	Subscribe         bool // listen on /child/ws for extension responses
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 60 * time.Second,
		Subscribe:         true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DeviceCode == "" {
		return ErrMissingDeviceCode
	}
	if c.ServerURL == "" {
		return ErrMissingURL
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidInterval
	}
	return nil
}
