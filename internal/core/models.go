package core

import (
	"math"
	"time"
)

// SessionStatus represents the current state of a session
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// Default values recorded on usage logs when the device does not send any
const (
	DefaultAppName      = "KidFun Monitor"
	DefaultActivityType = "MONITORING"
)

// Common end reasons
const (
	EndReasonAppClosed   = "APP_CLOSED"
	EndReasonUnlink      = "UNLINK"
	EndReasonLockTimeout = "LOCK_TIMEOUT"
	EndReasonTimeExpired = "TIME_EXPIRED"
	EndReasonSuperseded  = "SUPERSEDED"
)

// Account is the parent account owning profiles and devices.
// Its ID doubles as the family channel key.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile represents a monitored child identity
type Profile struct {
	ID        string
	AccountID string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DayLimit is the configured daily budget for one weekday
type DayLimit struct {
	ProfileID       string
	Weekday         time.Weekday
	DailyMinutes    int
	GradualIncrease bool
	UpdatedAt       time.Time
}

// Device is an endpoint that authenticates by presenting its code
type Device struct {
	ID        string
	AccountID string
	ProfileID string // empty when the device is not bound to a profile
	Name      string
	Code      string
	IsOnline  bool
	LastSeen  *time.Time
	CreatedAt time.Time
}

// Assigned returns true if the device is bound to a profile
func (d *Device) Assigned() bool {
	return d.ProfileID != ""
}

// UsageLog is a closed or open interval of monitored activity
type UsageLog struct {
	ID              string
	ProfileID       string
	DeviceID        string
	SessionID       string
	AppName         string
	ActivityType    string
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds *int64 // nil while the log is open
}

// IsOpen returns true if the log has not been closed yet
func (l *UsageLog) IsOpen() bool {
	return l.EndTime == nil
}

// Session is one continuous device-usage period
type Session struct {
	ID        string
	ProfileID string
	DeviceID  string
	StartTime time.Time
	EndTime   *time.Time
	Status    SessionStatus
	// ElapsedMinutes is computed by the server when the session completes.
	ElapsedMinutes int
	// ReportedMinutes is the client's own elapsed count, kept for display only.
	ReportedMinutes int
	BonusMinutes    int
	EndReason       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsActive returns true if the session is currently active
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Warning is an immutable audit record of a threshold crossing or other event
type Warning struct {
	ID               string
	ProfileID        string
	DeviceID         string
	Type             string
	Message          string
	RemainingMinutes int
	CreatedAt        time.Time
}

// UsageStats aggregates closed usage logs over a date range
type UsageStats struct {
	ProfileID    string
	From         time.Time
	To           time.Time
	TotalSeconds int64
	LogCount     int
}

// TotalMinutes returns the rounded number of minutes
func (u *UsageStats) TotalMinutes() int {
	return roundMinutes(u.TotalSeconds)
}

// TotalHours returns the total in hours rounded to one decimal place
func (u *UsageStats) TotalHours() float64 {
	return math.Round(float64(u.TotalMinutes())/60*10) / 10
}
