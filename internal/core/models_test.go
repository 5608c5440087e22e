package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDevice_Assigned(t *testing.T) {
	tests := []struct {
		name   string
		device Device
		want   bool
	}{
		{
			name:   "bound to a profile",
			device: Device{ID: "dev1", ProfileID: "prf1"},
			want:   true,
		},
		{
			name:   "unbound",
			device: Device{ID: "dev1"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.device.Assigned())
		})
	}
}

func TestSession_IsActive(t *testing.T) {
	tests := []struct {
		name   string
		status SessionStatus
		want   bool
	}{
		{"active", SessionStatusActive, true},
		{"completed", SessionStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &Session{ID: "s1", Status: tt.status}
			assert.Equal(t, tt.want, session.IsActive())
		})
	}
}

func TestUsageLog_IsOpen(t *testing.T) {
	start := time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)
	log := &UsageLog{ID: "log1", StartTime: start}
	assert.True(t, log.IsOpen())

	end := start.Add(10 * time.Minute)
	seconds := int64(600)
	log.EndTime = &end
	log.DurationSeconds = &seconds
	assert.False(t, log.IsOpen())
}

func TestUsageStats_Rounding(t *testing.T) {
	tests := []struct {
		seconds int64
		minutes int
		hours   float64
	}{
		{0, 0, 0},
		{29, 0, 0},
		{30, 1, 0},
		{45 * 60, 45, 0.8},
		{2 * 3600, 120, 2},
	}

	for _, tt := range tests {
		stats := &UsageStats{TotalSeconds: tt.seconds}
		assert.Equal(t, tt.minutes, stats.TotalMinutes(), "seconds=%d", tt.seconds)
		assert.Equal(t, tt.hours, stats.TotalHours(), "seconds=%d", tt.seconds)
	}
}
