package core

import (
	"math"
	"time"
)

// DefaultDailyMinutes applies when a profile has no DayLimit for the weekday
const DefaultDailyMinutes = 120

// LedgerInput is everything the ledger needs to compute the remaining budget.
// Logs may contain entries from other days; only those starting within
// AsOf's calendar day are counted.
type LedgerInput struct {
	Limit        *DayLimit // nil when no limit is configured for the weekday
	Logs         []*UsageLog
	BonusMinutes int
	AsOf         time.Time
}

// Remaining is the ledger's answer for one profile at one instant
type Remaining struct {
	ConfiguredLimit  int `json:"configured_limit"`
	UsedMinutes      int `json:"used_minutes"`
	BonusMinutes     int `json:"bonus_minutes"`
	RemainingMinutes int `json:"remaining_minutes"`
}

// Ledger computes the remaining daily budget. It holds no state besides the
// fallback limit and performs no I/O.
type Ledger struct {
	DefaultDailyMinutes int
}

// NewLedger creates a ledger with the given fallback limit.
// Non-positive values fall back to DefaultDailyMinutes.
func NewLedger(defaultDailyMinutes int) Ledger {
	if defaultDailyMinutes <= 0 {
		defaultDailyMinutes = DefaultDailyMinutes
	}
	return Ledger{DefaultDailyMinutes: defaultDailyMinutes}
}

// Compute returns the configured limit, used minutes, bonus and remaining
// minutes. Remaining is never negative.
func (l Ledger) Compute(in LedgerInput) Remaining {
	limit := l.DefaultDailyMinutes
	if limit <= 0 {
		limit = DefaultDailyMinutes
	}
	if in.Limit != nil && in.Limit.Weekday == in.AsOf.Weekday() {
		limit = in.Limit.DailyMinutes
	}

	dayStart, dayEnd := DayBounds(in.AsOf)

	var seconds int64
	for _, log := range in.Logs {
		if log == nil || log.DurationSeconds == nil {
			continue
		}
		if log.StartTime.Before(dayStart) || !log.StartTime.Before(dayEnd) {
			continue
		}
		seconds += *log.DurationSeconds
	}

	bonus := in.BonusMinutes
	if bonus < 0 {
		bonus = 0
	}
	used := roundMinutes(seconds)

	remaining := limit + bonus - used
	if remaining < 0 {
		remaining = 0
	}

	return Remaining{
		ConfiguredLimit:  limit,
		UsedMinutes:      used,
		BonusMinutes:     bonus,
		RemainingMinutes: remaining,
	}
}

// DayBounds returns [start, end) of the calendar day containing t, in t's location
func DayBounds(t time.Time) (time.Time, time.Time) {
	year, month, day := t.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// roundMinutes converts seconds to minutes rounding half up
func roundMinutes(seconds int64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Round(float64(seconds) / 60))
}

// elapsedMinutes returns whole minutes between from and to, never negative
func elapsedMinutes(from, to time.Time) int {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// elapsedSeconds returns whole seconds between from and to, never negative
func elapsedSeconds(from, to time.Time) int64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
