package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kidfun/internal/idgen"
)

// ManagerConfig holds the tunables of the session engine
type ManagerConfig struct {
	DefaultDailyMinutes int
	WarningThresholds   []int
	Location            *time.Location // calendar day boundaries; defaults to time.Local
	Logger              *slog.Logger
}

// StartOptions describe the activity recorded on the usage logs of a new session
type StartOptions struct {
	AppName      string
	ActivityType string
}

// Status is the current budget of a device's profile
type Status struct {
	Remaining
	ProfileID     string
	ActiveSession *Session
}

// StartResult is returned by StartSession
type StartResult struct {
	Session   *Session
	Replaced  []*Session // sessions auto-completed to keep one active session per device
	Remaining Remaining
}

// HeartbeatResult is returned by Heartbeat
type HeartbeatResult struct {
	Session   *Session
	Remaining Remaining
	Warning   *Warning // set when a threshold warning fired on this heartbeat
}

// EndResult is returned by EndSession
type EndResult struct {
	SessionID           string
	TotalElapsedMinutes int
	Reason              string
	AlreadyEnded        bool
}

// BonusResult is returned by AddBonus
type BonusResult struct {
	SessionID    string
	BonusMinutes int
	Remaining    Remaining
}

// SessionManager owns the ACTIVE -> COMPLETED session state machine.
// Mutations are serialized per device; a session is bound to exactly one
// device so this also serializes every mutation of a single session.
type SessionManager struct {
	store    Store
	ledger   Ledger
	warnings *WarningTrigger
	location *time.Location
	locks    *keyedMutex
	logger   *slog.Logger
}

// NewSessionManager creates a new session manager
func NewSessionManager(store Store, cfg ManagerConfig) *SessionManager {
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionManager{
		store:    store,
		ledger:   NewLedger(cfg.DefaultDailyMinutes),
		warnings: NewWarningTrigger(cfg.WarningThresholds),
		location: location,
		locks:    newKeyedMutex(),
		logger:   logger.With("component", "session-manager"),
	}
}

// GetStatus returns the remaining budget and the active session of the device
func (m *SessionManager) GetStatus(ctx context.Context, device *Device, now time.Time) (*Status, error) {
	if !device.Assigned() {
		return nil, ErrDeviceNotAssigned
	}

	remaining, err := m.computeRemaining(ctx, device.ProfileID, now)
	if err != nil {
		return nil, err
	}

	status := &Status{Remaining: remaining, ProfileID: device.ProfileID}

	session, err := m.store.GetActiveSessionByDevice(ctx, device.ID)
	switch {
	case err == nil:
		status.ActiveSession = session
	case errors.Is(err, ErrNoActiveSession), errors.Is(err, ErrSessionNotFound):
	default:
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}

	return status, nil
}

// StartSession completes any active session of the device, then opens a new
// session with zero bonus and a fresh usage log.
func (m *SessionManager) StartSession(ctx context.Context, device *Device, opts StartOptions, now time.Time) (*StartResult, error) {
	if !device.Assigned() {
		return nil, ErrDeviceNotAssigned
	}
	if opts.AppName == "" {
		opts.AppName = DefaultAppName
	}
	if opts.ActivityType == "" {
		opts.ActivityType = DefaultActivityType
	}

	unlock := m.locks.Lock(device.ID)
	defer unlock()

	session := &Session{
		ID:        idgen.NewSession(),
		ProfileID: device.ProfileID,
		DeviceID:  device.ID,
		StartTime: now,
		Status:    SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var replaced []*Session

	err := m.store.WithTx(ctx, func(tx SessionTx) error {
		active, err := tx.ListActiveSessionsByDevice(ctx, device.ID)
		if err != nil {
			return fmt.Errorf("failed to list active sessions: %w", err)
		}

		for _, prior := range active {
			if err := m.complete(ctx, tx, prior, EndReasonSuperseded, now); err != nil {
				return err
			}
			replaced = append(replaced, prior)
		}

		if err := tx.CreateSession(ctx, session); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		log := &UsageLog{
			ID:           idgen.NewUsageLog(),
			ProfileID:    session.ProfileID,
			DeviceID:     session.DeviceID,
			SessionID:    session.ID,
			AppName:      opts.AppName,
			ActivityType: opts.ActivityType,
			StartTime:    now,
		}
		if err := tx.CreateUsageLog(ctx, log); err != nil {
			return fmt.Errorf("failed to open usage log: %w", err)
		}

		return tx.SetDeviceOnline(ctx, device.ID, true, now)
	})
	if err != nil {
		return nil, err
	}

	for _, prior := range replaced {
		m.logger.Info("Completed previous active session",
			"session_id", prior.ID,
			"device_id", device.ID,
			"elapsed_minutes", prior.ElapsedMinutes)
	}

	remaining, err := m.computeRemaining(ctx, session.ProfileID, now)
	if err != nil {
		return nil, err
	}

	return &StartResult{Session: session, Replaced: replaced, Remaining: remaining}, nil
}

// Heartbeat records the client's elapsed count, rotates the newest open usage
// log and returns the recomputed budget. A heartbeat older than the open log
// leaves the logs untouched.
func (m *SessionManager) Heartbeat(ctx context.Context, device *Device, sessionID string, reportedMinutes int, now time.Time) (*HeartbeatResult, error) {
	if reportedMinutes < 0 {
		return nil, ErrInvalidElapsed
	}

	unlock := m.locks.Lock(device.ID)
	defer unlock()

	var session *Session
	err := m.store.WithTx(ctx, func(tx SessionTx) error {
		var err error
		session, err = tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.DeviceID != device.ID {
			return ErrSessionDeviceMismatch
		}
		if !session.IsActive() {
			return ErrSessionNotActive
		}
		if now.Before(session.StartTime) {
			return ErrHeartbeatBeforeStart
		}

		rotated, err := m.rotateLog(ctx, tx, session, now)
		if err != nil {
			return err
		}
		// A stale heartbeat must not roll the client's count back
		if rotated {
			if err := tx.UpdateReportedMinutes(ctx, session.ID, reportedMinutes, now); err != nil {
				return fmt.Errorf("failed to update reported minutes: %w", err)
			}
			session.ReportedMinutes = reportedMinutes
		}

		return tx.SetDeviceOnline(ctx, device.ID, true, now)
	})
	if err != nil {
		return nil, err
	}

	remaining, err := m.computeRemaining(ctx, session.ProfileID, now)
	if err != nil {
		return nil, err
	}

	return &HeartbeatResult{
		Session:   session,
		Remaining: remaining,
		Warning:   m.maybeWarn(ctx, session.ProfileID, device.ID, remaining.RemainingMinutes, now),
	}, nil
}

// EndSession completes the session and closes its open usage logs.
// Ending a completed session returns its stored elapsed time and succeeds.
func (m *SessionManager) EndSession(ctx context.Context, device *Device, sessionID, reason string, now time.Time) (*EndResult, error) {
	unlock := m.locks.Lock(device.ID)
	defer unlock()

	result := &EndResult{SessionID: sessionID, Reason: reason}

	err := m.store.WithTx(ctx, func(tx SessionTx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.DeviceID != device.ID {
			return ErrSessionDeviceMismatch
		}
		if !session.IsActive() {
			result.TotalElapsedMinutes = session.ElapsedMinutes
			result.AlreadyEnded = true
			return nil
		}

		if err := m.complete(ctx, tx, session, reason, now); err != nil {
			return err
		}
		result.TotalElapsedMinutes = session.ElapsedMinutes

		return tx.SetDeviceOnline(ctx, device.ID, false, now)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// EndActiveSession ends whatever session is active on the device.
// Returns ErrNoActiveSession when there is none.
func (m *SessionManager) EndActiveSession(ctx context.Context, device *Device, reason string, now time.Time) (*EndResult, error) {
	session, err := m.store.GetActiveSessionByDevice(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	return m.EndSession(ctx, device, session.ID, reason, now)
}

// AddBonus grants extra minutes to the device's active session
func (m *SessionManager) AddBonus(ctx context.Context, device *Device, additionalMinutes int, now time.Time) (*BonusResult, error) {
	if additionalMinutes <= 0 {
		return nil, ErrInvalidBonus
	}

	unlock := m.locks.Lock(device.ID)
	defer unlock()

	session, err := m.store.GetActiveSessionByDevice(ctx, device.ID)
	if err != nil {
		return nil, err
	}

	total, err := m.store.IncrementSessionBonus(ctx, session.ID, additionalMinutes, now)
	if err != nil {
		return nil, err
	}

	remaining, err := m.computeRemaining(ctx, session.ProfileID, now)
	if err != nil {
		return nil, err
	}

	return &BonusResult{
		SessionID:    session.ID,
		BonusMinutes: total,
		Remaining:    remaining,
	}, nil
}

// RecordWarning stores a warning reported by the device itself
func (m *SessionManager) RecordWarning(ctx context.Context, device *Device, warningType, message string, remainingMinutes int, now time.Time) (*Warning, error) {
	warningType = strings.TrimSpace(warningType)
	if warningType == "" {
		return nil, ErrInvalidWarningType
	}
	if !device.Assigned() {
		return nil, ErrDeviceNotAssigned
	}

	warning := &Warning{
		ID:               idgen.NewWarning(),
		ProfileID:        device.ProfileID,
		DeviceID:         device.ID,
		Type:             warningType,
		Message:          message,
		RemainingMinutes: remainingMinutes,
		CreatedAt:        now,
	}
	if err := m.store.CreateWarning(ctx, warning); err != nil {
		return nil, fmt.Errorf("failed to create warning: %w", err)
	}

	return warning, nil
}

// complete marks session COMPLETED at now and closes every open log it left
func (m *SessionManager) complete(ctx context.Context, tx SessionTx, session *Session, reason string, now time.Time) error {
	end := now
	if end.Before(session.StartTime) {
		end = session.StartTime
	}

	session.Status = SessionStatusCompleted
	session.EndTime = &end
	session.ElapsedMinutes = elapsedMinutes(session.StartTime, end)
	session.EndReason = reason
	session.UpdatedAt = now

	if err := tx.CompleteSession(ctx, session); err != nil {
		return fmt.Errorf("failed to complete session %s: %w", session.ID, err)
	}

	logs, err := tx.ListOpenUsageLogs(ctx, session.ProfileID, session.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to list open usage logs: %w", err)
	}
	for _, log := range logs {
		if err := tx.CloseUsageLog(ctx, log.ID, end, elapsedSeconds(log.StartTime, end)); err != nil {
			return fmt.Errorf("failed to close usage log %s: %w", log.ID, err)
		}
	}

	return nil
}

// rotateLog closes the newest open log at now and opens its successor.
// It reports false when now is older than the newest open log.
func (m *SessionManager) rotateLog(ctx context.Context, tx SessionTx, session *Session, now time.Time) (bool, error) {
	logs, err := tx.ListOpenUsageLogs(ctx, session.ProfileID, session.DeviceID)
	if err != nil {
		return false, fmt.Errorf("failed to list open usage logs: %w", err)
	}

	next := &UsageLog{
		ID:           idgen.NewUsageLog(),
		ProfileID:    session.ProfileID,
		DeviceID:     session.DeviceID,
		SessionID:    session.ID,
		AppName:      DefaultAppName,
		ActivityType: DefaultActivityType,
		StartTime:    now,
	}

	if len(logs) > 0 {
		latest := logs[0]
		if now.Before(latest.StartTime) {
			// Out of order: a newer heartbeat already rotated past now.
			return false, nil
		}
		if err := tx.CloseUsageLog(ctx, latest.ID, now, elapsedSeconds(latest.StartTime, now)); err != nil {
			return false, fmt.Errorf("failed to close usage log %s: %w", latest.ID, err)
		}
		next.AppName = latest.AppName
		next.ActivityType = latest.ActivityType
	}

	if err := tx.CreateUsageLog(ctx, next); err != nil {
		return false, fmt.Errorf("failed to open usage log: %w", err)
	}
	return true, nil
}

// maybeWarn fires a threshold warning if one is due. Failures are logged, not returned.
func (m *SessionManager) maybeWarn(ctx context.Context, profileID, deviceID string, remainingMinutes int, now time.Time) *Warning {
	dayStart, dayEnd := DayBounds(now.In(m.location))

	today, err := m.store.ListWarnings(ctx, profileID, deviceID, dayStart, dayEnd)
	if err != nil {
		m.logger.Warn("Failed to load today's warnings",
			"profile_id", profileID,
			"device_id", deviceID,
			"error", err)
		return nil
	}

	threshold, fire := m.warnings.ShouldFire(remainingMinutes, FiredThresholds(today))
	if !fire {
		return nil
	}

	warning := &Warning{
		ID:               idgen.NewWarning(),
		ProfileID:        profileID,
		DeviceID:         deviceID,
		Type:             WarningType(threshold),
		Message:          WarningMessage(threshold),
		RemainingMinutes: remainingMinutes,
		CreatedAt:        now,
	}
	if err := m.store.CreateWarning(ctx, warning); err != nil {
		m.logger.Warn("Failed to persist warning",
			"profile_id", profileID,
			"device_id", deviceID,
			"threshold", threshold,
			"error", err)
	}

	return warning
}

// computeRemaining gathers the ledger inputs for profileID at now
func (m *SessionManager) computeRemaining(ctx context.Context, profileID string, now time.Time) (Remaining, error) {
	local := now.In(m.location)
	dayStart, dayEnd := DayBounds(local)

	limit, err := m.store.GetDayLimit(ctx, profileID, local.Weekday())
	if err != nil {
		if !errors.Is(err, ErrDayLimitNotFound) {
			return Remaining{}, fmt.Errorf("failed to get day limit: %w", err)
		}
		limit = nil
	}

	logs, err := m.store.ListUsageLogs(ctx, profileID, dayStart, dayEnd)
	if err != nil {
		return Remaining{}, fmt.Errorf("failed to list usage logs: %w", err)
	}

	bonus := 0
	active, err := m.store.GetActiveSessionByProfile(ctx, profileID)
	switch {
	case err == nil:
		bonus = active.BonusMinutes
	case errors.Is(err, ErrNoActiveSession), errors.Is(err, ErrSessionNotFound):
	default:
		return Remaining{}, fmt.Errorf("failed to get active session: %w", err)
	}

	return m.ledger.Compute(LedgerInput{
		Limit:        limit,
		Logs:         logs,
		BonusMinutes: bonus,
		AsOf:         local,
	}), nil
}

var _ SessionManagerInterface = (*SessionManager)(nil)
