package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultWarningThresholds are the remaining-minute marks that raise a warning
var DefaultWarningThresholds = []int{30, 15, 5}

const warningTypePrefix = "TIME_WARNING_"

// WarningTrigger decides whether a threshold warning should fire.
// It never persists anything.
type WarningTrigger struct {
	thresholds []int
}

// NewWarningTrigger creates a trigger for the given thresholds.
// Non-positive and duplicate values are dropped; an empty list uses the defaults.
func NewWarningTrigger(thresholds []int) *WarningTrigger {
	seen := make(map[int]bool)
	cleaned := make([]int, 0, len(thresholds))
	for _, t := range thresholds {
		if t <= 0 || seen[t] {
			continue
		}
		seen[t] = true
		cleaned = append(cleaned, t)
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultWarningThresholds...)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(cleaned)))

	return &WarningTrigger{thresholds: cleaned}
}

// Thresholds returns the thresholds in descending order
func (w *WarningTrigger) Thresholds() []int {
	out := make([]int, len(w.thresholds))
	copy(out, w.thresholds)
	return out
}

// ShouldFire returns the threshold that equals remainingMinutes, unless it
// already fired today.
func (w *WarningTrigger) ShouldFire(remainingMinutes int, firedToday map[int]bool) (int, bool) {
	for _, t := range w.thresholds {
		if t != remainingMinutes {
			continue
		}
		if firedToday[t] {
			return 0, false
		}
		return t, true
	}
	return 0, false
}

// FiredThresholds extracts the thresholds already recorded in warnings
func FiredThresholds(warnings []*Warning) map[int]bool {
	fired := make(map[int]bool)
	for _, w := range warnings {
		if t, ok := ParseWarningType(w.Type); ok {
			fired[t] = true
		}
	}
	return fired
}

// WarningType returns the warning type recorded for a threshold, e.g. TIME_WARNING_15
func WarningType(threshold int) string {
	return warningTypePrefix + strconv.Itoa(threshold)
}

// ParseWarningType reverses WarningType
func ParseWarningType(typ string) (int, bool) {
	if !strings.HasPrefix(typ, warningTypePrefix) {
		return 0, false
	}
	t, err := strconv.Atoi(strings.TrimPrefix(typ, warningTypePrefix))
	if err != nil || t <= 0 {
		return 0, false
	}
	return t, true
}

// WarningMessage is the default text stored with a threshold warning
func WarningMessage(threshold int) string {
	if threshold == 1 {
		return "1 minute of screen time remaining"
	}
	return fmt.Sprintf("%d minutes of screen time remaining", threshold)
}
