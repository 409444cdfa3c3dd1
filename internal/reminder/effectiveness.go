package reminder

import (
	"time"

	"github.com/hyperengineering/nudge/internal/types"
)

// RecentWindow is how many of a user's latest tasks feed the statistics.
const RecentWindow = 20

// ComputeEffectiveness derives a user's statistics from their most recent
// tasks. Rates are always in [0, 1]; an empty input yields zero rates and
// a zero sample size, which callers treat as no data.
func ComputeEffectiveness(userID int64, tasks []types.Task, now time.Time) types.ReminderEffectiveness {
	eff := types.ReminderEffectiveness{
		UserID:     userID,
		SampleSize: len(tasks),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var completed, onTime, timed int
	var latency time.Duration
	for _, t := range tasks {
		if t.Status != types.TaskCompleted || t.CompletedAt == nil {
			continue
		}
		completed++
		if !t.CompletedAt.After(t.DueDate) {
			onTime++
		}
		if t.LastReminderAt != nil {
			d := t.CompletedAt.Sub(*t.LastReminderAt)
			if d < 0 {
				d = 0
			}
			latency += d
			timed++
		}
	}

	if len(tasks) > 0 {
		eff.CompletionRate = float64(completed) / float64(len(tasks))
	}
	if completed > 0 {
		eff.OnTimeRate = float64(onTime) / float64(completed)
	}
	if timed > 0 {
		eff.AverageCompletionTime = latency / time.Duration(timed)
	}
	eff.OptimalInterval = BaseInterval(&eff)
	return eff
}
