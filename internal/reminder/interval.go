// Package reminder decides when and how to remind a user about a task:
// the adaptive interval, the reminder kind, per-user effectiveness and the
// single-delivery dispatcher.
package reminder

import (
	"time"

	"github.com/hyperengineering/nudge/internal/types"
)

// Interval policy.
const (
	DefaultInterval  = 30 * time.Minute
	LowRateInterval  = 15 * time.Minute
	HighRateInterval = 60 * time.Minute

	LowCompletionRate  = 0.3
	HighCompletionRate = 0.7

	ImminentWindow   = time.Hour
	ImminentInterval = 10 * time.Minute
	NearWindow       = 3 * time.Hour
	NearInterval     = 20 * time.Minute

	FatigueThreshold = 3
	FatigueFactor    = 1.5
)

// BaseInterval returns the delay implied by the user's completion rate
// alone. Absent statistics give the neutral default.
func BaseInterval(eff *types.ReminderEffectiveness) time.Duration {
	if !eff.HasData() {
		return DefaultInterval
	}
	switch {
	case eff.CompletionRate < LowCompletionRate:
		return LowRateInterval
	case eff.CompletionRate > HighCompletionRate:
		return HighRateInterval
	default:
		return DefaultInterval
	}
}

// NextInterval returns the delay until the next reminder for a task due
// in untilDue that has already been reminded reminderCount times.
func NextInterval(eff *types.ReminderEffectiveness, untilDue time.Duration, reminderCount int) time.Duration {
	interval := BaseInterval(eff)

	switch {
	case untilDue <= ImminentWindow:
		interval = ImminentInterval
	case untilDue <= NearWindow:
		interval = min(interval, NearInterval)
	}

	if reminderCount > FatigueThreshold {
		interval = time.Duration(float64(interval) * FatigueFactor)
	}
	return interval
}
