package core

import (
	"context"
	"time"
)

// Store defines the storage operations the session engine needs
type Store interface {
	GetDevice(ctx context.Context, id string) (*Device, error)
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetDayLimit(ctx context.Context, profileID string, weekday time.Weekday) (*DayLimit, error)

	// ListUsageLogs returns logs for a profile whose start is in [from, to)
	ListUsageLogs(ctx context.Context, profileID string, from, to time.Time) ([]*UsageLog, error)

	GetSession(ctx context.Context, id string) (*Session, error)
	GetActiveSessionByDevice(ctx context.Context, deviceID string) (*Session, error)
	// GetActiveSessionByProfile returns the most recently started active session
	GetActiveSessionByProfile(ctx context.Context, profileID string) (*Session, error)

	// IncrementSessionBonus atomically adds minutes to an active session's bonus
	// and returns the new total. Returns ErrSessionNotActive if the session is
	// no longer active.
	IncrementSessionBonus(ctx context.Context, sessionID string, minutes int, now time.Time) (int, error)

	ListWarnings(ctx context.Context, profileID, deviceID string, from, to time.Time) ([]*Warning, error)
	CreateWarning(ctx context.Context, warning *Warning) error

	// WithTx runs fn in a single transaction. Nothing fn wrote is kept if it
	// returns an error.
	WithTx(ctx context.Context, fn func(tx SessionTx) error) error
}

// SessionTx is the set of writes that must commit together
type SessionTx interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	ListActiveSessionsByDevice(ctx context.Context, deviceID string) ([]*Session, error)
	CreateSession(ctx context.Context, session *Session) error
	// CompleteSession persists status, end time, elapsed minutes and end reason
	CompleteSession(ctx context.Context, session *Session) error
	UpdateReportedMinutes(ctx context.Context, sessionID string, minutes int, now time.Time) error

	// ListOpenUsageLogs returns the open logs for profile+device, newest first
	ListOpenUsageLogs(ctx context.Context, profileID, deviceID string) ([]*UsageLog, error)
	CreateUsageLog(ctx context.Context, log *UsageLog) error
	CloseUsageLog(ctx context.Context, id string, end time.Time, durationSeconds int64) error

	SetDeviceOnline(ctx context.Context, deviceID string, online bool, seen time.Time) error
}

// SessionManagerInterface defines the contract for session management
type SessionManagerInterface interface {
	GetStatus(ctx context.Context, device *Device, now time.Time) (*Status, error)
	StartSession(ctx context.Context, device *Device, opts StartOptions, now time.Time) (*StartResult, error)
	Heartbeat(ctx context.Context, device *Device, sessionID string, reportedMinutes int, now time.Time) (*HeartbeatResult, error)
	EndSession(ctx context.Context, device *Device, sessionID, reason string, now time.Time) (*EndResult, error)
	EndActiveSession(ctx context.Context, device *Device, reason string, now time.Time) (*EndResult, error)
	AddBonus(ctx context.Context, device *Device, additionalMinutes int, now time.Time) (*BonusResult, error)
	RecordWarning(ctx context.Context, device *Device, warningType, message string, remainingMinutes int, now time.Time) (*Warning, error)
}
