package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kidfun/internal/core"
)

// UnlinkStore is the storage the unlinker needs
type UnlinkStore interface {
	GetDevice(ctx context.Context, id string) (*core.Device, error)
	UnassignDevice(ctx context.Context, deviceID string) error
}

// SessionEnder ends whatever session is active on a device
type SessionEnder interface {
	EndActiveSession(ctx context.Context, device *core.Device, reason string, now time.Time) (*core.EndResult, error)
}

// RemovalNotifier tells a family's subscribers that a device was removed
type RemovalNotifier interface {
	NotifyDeviceRemoved(ctx context.Context, familyID, deviceID string) error
}

// UnlinkResult describes what an unlink did
type UnlinkResult struct {
	Device       *core.Device
	EndedSession *core.EndResult // nil when no session was active
	Notified     bool
}

// Unlinker detaches a device from its profile
type Unlinker struct {
	store    UnlinkStore
	sessions SessionEnder
	resolver *Resolver
	notifier RemovalNotifier
	clock    core.Clock
	logger   *slog.Logger
}

// NewUnlinker creates an unlinker. resolver and notifier may be nil.
func NewUnlinker(store UnlinkStore, sessions SessionEnder, resolver *Resolver, notifier RemovalNotifier, clock core.Clock, logger *slog.Logger) *Unlinker {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Unlinker{
		store:    store,
		sessions: sessions,
		resolver: resolver,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With("component", "device-unlinker"),
	}
}

// Unlink ends the device's active session with reason UNLINK, clears its
// profile binding and tells the family. When accountID is set the device
// must belong to it; devices of other accounts are reported as not found.
// The notification is best-effort: the unlink has already happened.
func (u *Unlinker) Unlink(ctx context.Context, accountID, deviceID string) (*UnlinkResult, error) {
	device, err := u.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if accountID != "" && device.AccountID != accountID {
		return nil, core.ErrDeviceNotFound
	}

	result := &UnlinkResult{Device: device}

	ended, err := u.sessions.EndActiveSession(ctx, device, core.EndReasonUnlink, u.clock.Now())
	switch {
	case err == nil:
		result.EndedSession = ended
	case errors.Is(err, core.ErrNoActiveSession):
	default:
		return nil, fmt.Errorf("failed to end active session: %w", err)
	}

	if err := u.store.UnassignDevice(ctx, device.ID); err != nil {
		return nil, fmt.Errorf("failed to unassign device: %w", err)
	}

	if u.resolver != nil {
		u.resolver.Invalidate(device)
	}

	if u.notifier != nil {
		if err := u.notifier.NotifyDeviceRemoved(ctx, device.AccountID, device.ID); err != nil {
			u.logger.Warn("Failed to publish device removal",
				"device_id", device.ID,
				"error", err)
		} else {
			result.Notified = true
		}
	}

	u.logger.Info("Device unlinked",
		"device_id", device.ID,
		"profile_id", device.ProfileID,
		"session_ended", result.EndedSession != nil)

	return result, nil
}
