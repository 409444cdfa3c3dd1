package reminder

import (
	"fmt"
	"time"

	"github.com/hyperengineering/nudge/internal/types"
)

// UrgentWindow is how close to the due time a reminder becomes urgent.
const UrgentWindow = 30 * time.Minute

// SlowResponse is the average completion latency above which a user gets
// motivational reminders instead of regular ones.
const SlowResponse = 24 * time.Hour

// SelectKind picks the reminder kind from time-to-due, then upgrades a
// regular reminder from the user's statistics.
func SelectKind(untilDue time.Duration, eff *types.ReminderEffectiveness) types.ReminderKind {
	switch {
	case untilDue < 0:
		return types.ReminderOverdue
	case untilDue <= UrgentWindow:
		return types.ReminderUrgent
	}

	if eff.HasData() {
		if eff.AverageCompletionTime > SlowResponse {
			return types.ReminderMotivational
		}
		if eff.CompletionRate < LowCompletionRate {
			return types.ReminderUrgent
		}
	}
	return types.ReminderRegular
}

// Severity is the escalation tier of an overdue task.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// OverdueSeverity classifies how long a task has been overdue and renders
// the elapsed time in hours below a day and in days above.
func OverdueSeverity(elapsed time.Duration) (Severity, string) {
	if elapsed < 24*time.Hour {
		hours := int(elapsed.Hours())
		if hours < 1 {
			hours = 1
		}
		return SeverityWarning, plural(hours, "hour")
	}
	return SeverityCritical, plural(int(elapsed.Hours()/24), "day")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
