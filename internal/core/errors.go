package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine matches exactly one of
// these with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTransportUnavailable = errors.New("transport unavailable")
)

// Not found
var (
	ErrAccountNotFound  = fmt.Errorf("account %w", ErrNotFound)
	ErrProfileNotFound  = fmt.Errorf("profile %w", ErrNotFound)
	ErrDeviceNotFound   = fmt.Errorf("device %w", ErrNotFound)
	ErrSessionNotFound  = fmt.Errorf("session %w", ErrNotFound)
	ErrDayLimitNotFound = fmt.Errorf("day limit %w", ErrNotFound)
)

// Invalid state
var (
	ErrSessionNotActive  = fmt.Errorf("%w: session is not active", ErrInvalidState)
	ErrNoActiveSession   = fmt.Errorf("%w: device has no active session", ErrInvalidState)
	ErrDeviceNotAssigned = fmt.Errorf("%w: device is not assigned to a profile", ErrInvalidState)

	ErrSessionAlreadyActive = fmt.Errorf("%w: device already has an active session", ErrInvalidState)
)

// Invalid input
var (
	ErrInvalidBonus          = fmt.Errorf("%w: additional minutes must be positive", ErrInvalidInput)
	ErrInvalidElapsed        = fmt.Errorf("%w: elapsed minutes cannot be negative", ErrInvalidInput)
	ErrHeartbeatBeforeStart  = fmt.Errorf("%w: timestamp is earlier than session start", ErrInvalidInput)
	ErrInvalidWeekday        = fmt.Errorf("%w: weekday must be between 0 and 6", ErrInvalidInput)
	ErrInvalidDailyMinutes   = fmt.Errorf("%w: daily minutes cannot be negative", ErrInvalidInput)
	ErrInvalidWarningType    = fmt.Errorf("%w: warning type cannot be empty", ErrInvalidInput)
	ErrInvalidName           = fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
	ErrInvalidDeviceCode     = fmt.Errorf("%w: device code is required", ErrInvalidInput)
	ErrInvalidRequestedTime  = fmt.Errorf("%w: requested minutes cannot be negative", ErrInvalidInput)
	ErrInvalidAdditionalTime = fmt.Errorf("%w: approved extensions need positive additional minutes", ErrInvalidInput)
	ErrMissingFamily         = fmt.Errorf("%w: family id is required", ErrInvalidInput)
)

// Unauthorized
var (
	ErrSessionDeviceMismatch = fmt.Errorf("%w: session belongs to another device", ErrUnauthorized)
	ErrInvalidCredentials    = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
)

// ErrorKind returns the kind sentinel matched by err, or nil for unclassified errors.
func ErrorKind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidState, ErrInvalidInput, ErrUnauthorized, ErrTransportUnavailable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
