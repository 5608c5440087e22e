package logging

import (
	"context"
	"log/slog"
	"time"

	"kidfun/internal/core"
)

// SessionManagerLogger wraps a SessionManager and logs all method calls
type SessionManagerLogger struct {
	manager core.SessionManagerInterface
	logger  *slog.Logger
}

// NewSessionManagerLogger creates a new logging decorator for SessionManager
func NewSessionManagerLogger(manager core.SessionManagerInterface, logger *slog.Logger) core.SessionManagerInterface {
	return &SessionManagerLogger{
		manager: manager,
		logger:  logger.With("interface", "SessionManager"),
	}
}

func (l *SessionManagerLogger) GetStatus(ctx context.Context, device *core.Device, now time.Time) (*core.Status, error) {
	start := time.Now()

	status, err := l.manager.GetStatus(ctx, device, now)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("GetStatus failed",
			"device_id", device.ID,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("GetStatus completed",
		"device_id", device.ID,
		"profile_id", status.ProfileID,
		"remaining_minutes", status.RemainingMinutes,
		"duration", duration)

	return status, nil
}

func (l *SessionManagerLogger) StartSession(ctx context.Context, device *core.Device, opts core.StartOptions, now time.Time) (*core.StartResult, error) {
	start := time.Now()
	l.logger.Info("StartSession called",
		"device_id", device.ID,
		"profile_id", device.ProfileID,
		"app_name", opts.AppName)

	result, err := l.manager.StartSession(ctx, device, opts, now)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("StartSession failed",
			"device_id", device.ID,
			"profile_id", device.ProfileID,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Info("StartSession completed",
		"device_id", device.ID,
		"session_id", result.Session.ID,
		"replaced", len(result.Replaced),
		"remaining_minutes", result.Remaining.RemainingMinutes,
		"duration", duration)

	return result, nil
}

func (l *SessionManagerLogger) Heartbeat(ctx context.Context, device *core.Device, sessionID string, reportedMinutes int, now time.Time) (*core.HeartbeatResult, error) {
	start := time.Now()

	result, err := l.manager.Heartbeat(ctx, device, sessionID, reportedMinutes, now)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("Heartbeat failed",
			"device_id", device.ID,
			"session_id", sessionID,
			"reported_minutes", reportedMinutes,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("Heartbeat completed",
		"device_id", device.ID,
		"session_id", sessionID,
		"reported_minutes", reportedMinutes,
		"remaining_minutes", result.Remaining.RemainingMinutes,
		"duration", duration)

	if result.Warning != nil {
		l.logger.Info("Warning threshold reached",
			"device_id", device.ID,
			"session_id", sessionID,
			"type", result.Warning.Type)
	}

	return result, nil
}

func (l *SessionManagerLogger) EndSession(ctx context.Context, device *core.Device, sessionID, reason string, now time.Time) (*core.EndResult, error) {
	start := time.Now()
	l.logger.Info("EndSession called",
		"device_id", device.ID,
		"session_id", sessionID,
		"reason", reason)

	result, err := l.manager.EndSession(ctx, device, sessionID, reason, now)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("EndSession failed",
			"device_id", device.ID,
			"session_id", sessionID,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Info("EndSession completed",
		"device_id", device.ID,
		"session_id", sessionID,
		"total_elapsed_minutes", result.TotalElapsedMinutes,
		"already_ended", result.AlreadyEnded,
		"duration", duration)

	return result, nil
}

func (l *SessionManagerLogger) EndActiveSession(ctx context.Context, device *core.Device, reason string, now time.Time) (*core.EndResult, error) {
	start := time.Now()
	l.logger.Info("EndActiveSession called",
		"device_id", device.ID,
		"reason", reason)

	result, err := l.manager.EndActiveSession(ctx, device, reason, now)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("EndActiveSession failed",
			"device_id", device.ID,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Info("EndActiveSession completed",
		"device_id", device.ID,
		"session_id", result.SessionID,
		"total_elapsed_minutes", result.TotalElapsedMinutes,
		"duration", duration)

	return result, nil
}

func (l *SessionManagerLogger) AddBonus(ctx context.Context, device *core.Device, additionalMinutes int, now time.Time) (*core.BonusResult, error) {
	start := time.Now()
	l.logger.Info("AddBonus called",
		"device_id", device.ID,
		"additional_minutes", additionalMinutes)

	result, err := l.manager.AddBonus(ctx, device, additionalMinutes, now)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("AddBonus failed",
			"device_id", device.ID,
			"additional_minutes", additionalMinutes,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Info("AddBonus completed",
		"device_id", device.ID,
		"session_id", result.SessionID,
		"bonus_minutes", result.BonusMinutes,
		"remaining_minutes", result.Remaining.RemainingMinutes,
		"duration", duration)

	return result, nil
}

func (l *SessionManagerLogger) RecordWarning(ctx context.Context, device *core.Device, warningType, message string, remainingMinutes int, now time.Time) (*core.Warning, error) {
	start := time.Now()

	warning, err := l.manager.RecordWarning(ctx, device, warningType, message, remainingMinutes, now)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("RecordWarning failed",
			"device_id", device.ID,
			"type", warningType,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Info("RecordWarning completed",
		"device_id", device.ID,
		"warning_id", warning.ID,
		"type", warningType,
		"remaining_minutes", remainingMinutes,
		"duration", duration)

	return warning, nil
}
