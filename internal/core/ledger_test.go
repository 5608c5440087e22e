package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func closedLog(start time.Time, seconds int64) *UsageLog {
	end := start.Add(time.Duration(seconds) * time.Second)
	return &UsageLog{StartTime: start, EndTime: &end, DurationSeconds: &seconds}
}

func TestLedger_Compute(t *testing.T) {
	// 2024-01-17 is a Wednesday (weekday 3)
	asOf := time.Date(2024, 1, 17, 15, 0, 0, 0, time.UTC)
	morning := time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC)
	wednesdayLimit := &DayLimit{ProfileID: "p1", Weekday: time.Wednesday, DailyMinutes: 120}

	tests := []struct {
		name  string
		input LedgerInput
		want  Remaining
	}{
		{
			name: "one closed hour against 120",
			input: LedgerInput{
				Limit: wednesdayLimit,
				Logs:  []*UsageLog{closedLog(morning, 3600)},
				AsOf:  asOf,
			},
			want: Remaining{ConfiguredLimit: 120, UsedMinutes: 60, BonusMinutes: 0, RemainingMinutes: 60},
		},
		{
			name: "bonus from active session",
			input: LedgerInput{
				Limit:        wednesdayLimit,
				Logs:         []*UsageLog{closedLog(morning, 3600)},
				BonusMinutes: 30,
				AsOf:         asOf,
			},
			want: Remaining{ConfiguredLimit: 120, UsedMinutes: 60, BonusMinutes: 30, RemainingMinutes: 90},
		},
		{
			name: "overuse clamps to zero",
			input: LedgerInput{
				Limit: wednesdayLimit,
				Logs:  []*UsageLog{closedLog(morning, 150*60)},
				AsOf:  asOf,
			},
			want: Remaining{ConfiguredLimit: 120, UsedMinutes: 150, BonusMinutes: 0, RemainingMinutes: 0},
		},
		{
			name:  "missing limit uses default",
			input: LedgerInput{AsOf: asOf},
			want:  Remaining{ConfiguredLimit: 120, RemainingMinutes: 120},
		},
		{
			name: "limit for another weekday is ignored",
			input: LedgerInput{
				Limit: &DayLimit{Weekday: time.Monday, DailyMinutes: 30},
				AsOf:  asOf,
			},
			want: Remaining{ConfiguredLimit: 120, RemainingMinutes: 120},
		},
		{
			name: "open logs contribute nothing",
			input: LedgerInput{
				Limit: wednesdayLimit,
				Logs:  []*UsageLog{{StartTime: morning}},
				AsOf:  asOf,
			},
			want: Remaining{ConfiguredLimit: 120, RemainingMinutes: 120},
		},
		{
			name: "logs from other days are ignored",
			input: LedgerInput{
				Limit: wednesdayLimit,
				Logs: []*UsageLog{
					closedLog(morning.AddDate(0, 0, -1), 3600),
					closedLog(morning.AddDate(0, 0, 1), 3600),
					closedLog(time.Date(2024, 1, 16, 23, 50, 0, 0, time.UTC), 1200),
				},
				AsOf: asOf,
			},
			want: Remaining{ConfiguredLimit: 120, RemainingMinutes: 120},
		},
		{
			name: "seconds are summed before rounding",
			input: LedgerInput{
				Limit: wednesdayLimit,
				Logs: []*UsageLog{
					closedLog(morning, 29),
					closedLog(morning.Add(time.Minute), 29),
					closedLog(morning.Add(2*time.Minute), 29),
				},
				AsOf: asOf,
			},
			want: Remaining{ConfiguredLimit: 120, UsedMinutes: 1, RemainingMinutes: 119},
		},
		{
			name: "half minute rounds up",
			input: LedgerInput{
				Limit: wednesdayLimit,
				Logs:  []*UsageLog{closedLog(morning, 90)},
				AsOf:  asOf,
			},
			want: Remaining{ConfiguredLimit: 120, UsedMinutes: 2, RemainingMinutes: 118},
		},
		{
			name: "zero limit",
			input: LedgerInput{
				Limit: &DayLimit{Weekday: time.Wednesday, DailyMinutes: 0},
				AsOf:  asOf,
			},
			want: Remaining{ConfiguredLimit: 0, RemainingMinutes: 0},
		},
	}

	ledger := NewLedger(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ledger.Compute(tt.input)
			assert.Equal(t, tt.want, got)

			// Recomputing with identical input gives identical output
			assert.Equal(t, got, ledger.Compute(tt.input))
		})
	}
}

func TestLedger_NeverNegative(t *testing.T) {
	asOf := time.Date(2024, 1, 17, 20, 0, 0, 0, time.UTC)
	start := time.Date(2024, 1, 17, 8, 0, 0, 0, time.UTC)
	ledger := NewLedger(DefaultDailyMinutes)

	for limit := 0; limit <= 240; limit += 40 {
		for used := 0; used <= 300; used += 25 {
			for bonus := 0; bonus <= 60; bonus += 15 {
				got := ledger.Compute(LedgerInput{
					Limit:        &DayLimit{Weekday: asOf.Weekday(), DailyMinutes: limit},
					Logs:         []*UsageLog{closedLog(start, int64(used*60))},
					BonusMinutes: bonus,
					AsOf:         asOf,
				})

				want := limit + bonus - used
				if want < 0 {
					want = 0
				}
				assert.Equal(t, want, got.RemainingMinutes, "limit=%d used=%d bonus=%d", limit, used, bonus)
				assert.GreaterOrEqual(t, got.RemainingMinutes, 0)
			}
		}
	}
}

func TestLedger_DayBoundaryFollowsLocation(t *testing.T) {
	tz := time.FixedZone("UTC+3", 3*60*60)
	// 22:30 UTC on the 16th is 01:30 on the 17th in UTC+3
	start := time.Date(2024, 1, 16, 22, 30, 0, 0, time.UTC)

	ledger := NewLedger(60)

	local := ledger.Compute(LedgerInput{
		Logs: []*UsageLog{closedLog(start, 1800)},
		AsOf: time.Date(2024, 1, 17, 12, 0, 0, 0, tz),
	})
	assert.Equal(t, 30, local.UsedMinutes)

	utc := ledger.Compute(LedgerInput{
		Logs: []*UsageLog{closedLog(start, 1800)},
		AsOf: time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, 0, utc.UsedMinutes)
}

func TestDayBounds(t *testing.T) {
	at := time.Date(2024, 3, 9, 17, 45, 12, 0, time.UTC)
	start, end := DayBounds(at)

	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), end)
}

func TestUsageStats_Totals(t *testing.T) {
	stats := &UsageStats{TotalSeconds: 5430, LogCount: 3}

	assert.Equal(t, 91, stats.TotalMinutes())
	assert.Equal(t, 1.5, stats.TotalHours())
}
