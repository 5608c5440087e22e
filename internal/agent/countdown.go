package agent

import (
	"sync"
	"time"

	"kidfun/internal/core"
)

// Countdown is the agent's optimistic view of the remaining budget. The
// server value is authoritative; between responses it decays by whole
// elapsed minutes, never below zero and never above the last server value.
type Countdown struct {
	mu         sync.Mutex
	clock      core.Clock
	remaining  int
	capturedAt time.Time
}

// NewCountdown creates a countdown with nothing remaining
func NewCountdown(clock core.Clock) *Countdown {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Countdown{clock: clock, capturedAt: clock.Now()}
}

// Reset adopts a server-reported remaining budget as of now
func (c *Countdown) Reset(remainingMinutes int) {
	if remainingMinutes < 0 {
		remainingMinutes = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = remainingMinutes
	c.capturedAt = c.clock.Now()
}

// Remaining returns the locally decayed budget
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := int(c.clock.Now().Sub(c.capturedAt) / time.Minute)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := c.remaining - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired returns true once the budget is used up
func (c *Countdown) Expired() bool {
	return c.Remaining() == 0
}
