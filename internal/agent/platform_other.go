//go:build !windows

package agent

import (
	"log/slog"
)

// LogPlatform implements Platform by logging actions instead of performing
// them. It is used where no workstation lock is available.
type LogPlatform struct {
	logger *slog.Logger
}

// NewLogPlatform creates a new logging platform implementation
func NewLogPlatform(logger *slog.Logger) *LogPlatform {
	return &LogPlatform{
		logger: logger.With("component", "platform"),
	}
}

// LockWorkstation logs the lock action
func (p *LogPlatform) LockWorkstation() error {
	p.logger.Warn("LOCK_WORKSTATION",
		"action", "lock",
		"note", "no lock available on this platform",
	)
	return nil
}

// ShowWarningNotification logs the notification
func (p *LogPlatform) ShowWarningNotification(title, message string) error {
	p.logger.Warn("screen time warning",
		"title", title,
		"message", message,
	)
	return nil
}

// NewPlatform creates a new platform implementation for the current OS
func NewPlatform(logger *slog.Logger) Platform {
	return NewLogPlatform(logger)
}

var _ Platform = (*LogPlatform)(nil)
