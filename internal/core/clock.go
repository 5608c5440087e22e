package core

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testing
type Clock interface {
	// Now returns the current time
	Now() time.Time
}

// RealClock implements Clock using the real system time
type RealClock struct{}

// Now returns the current time
func (RealClock) Now() time.Time {
	return time.Now()
}

// MonotonicClock wraps a Clock and never returns an instant earlier than one
// it already returned. Wall-clock steps backwards are flattened.
type MonotonicClock struct {
	base Clock
	mu   sync.Mutex
	last time.Time
}

// NewMonotonicClock wraps base, defaulting to RealClock
func NewMonotonicClock(base Clock) *MonotonicClock {
	if base == nil {
		base = RealClock{}
	}
	return &MonotonicClock{base: base}
}

// Now returns max(previous, base.Now())
func (m *MonotonicClock) Now() time.Time {
	now := m.base.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}

// MockClock implements Clock for testing
type MockClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// NewMockClock creates a mock clock set to t
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{CurrentTime: t}
}

// Now returns the mocked current time
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentTime
}

// Advance moves the mocked time forward by the given duration
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.CurrentTime = m.CurrentTime.Add(d)
	m.mu.Unlock()
}

// Set sets the mocked current time to a specific value
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	m.CurrentTime = t
	m.mu.Unlock()
}

// Ensure implementations satisfy the interface
var (
	_ Clock = RealClock{}
	_ Clock = (*MonotonicClock)(nil)
	_ Clock = (*MockClock)(nil)
)
