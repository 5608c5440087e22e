package storage

import (
	"context"
	"time"

	"kidfun/internal/core"
)

// Storage defines the interface for data persistence
type Storage interface {
	core.Store

	// Accounts
	CreateAccount(ctx context.Context, account *core.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*core.Account, error)

	// Profiles
	CreateProfile(ctx context.Context, profile *core.Profile) error
	ListProfiles(ctx context.Context, accountID string) ([]*core.Profile, error)

	// Day limits
	UpsertDayLimit(ctx context.Context, limit *core.DayLimit) error

	// Devices
	CreateDevice(ctx context.Context, device *core.Device) error
	GetDeviceByCode(ctx context.Context, code string) (*core.Device, error)
	UnassignDevice(ctx context.Context, deviceID string) error

	// Reporting
	GetUsageStats(ctx context.Context, profileID string, from, to time.Time) (*core.UsageStats, error)
	ListRecentWarnings(ctx context.Context, profileID string, limit int) ([]*core.Warning, error)

	// Retention
	PurgeUsageLogs(ctx context.Context, before time.Time) (int64, error)
	PurgeWarnings(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Close() error
}
