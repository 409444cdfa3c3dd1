package goals

import (
	"math"
	"strings"
	"time"

	"github.com/hyperengineering/nudge/internal/types"
)

// MilestoneSpec is a checkpoint generated for a new goal.
type MilestoneSpec struct {
	Title    string
	Date     time.Time
	Criteria []string
}

// Milestones returns the midpoint and final checkpoints between start and
// deadline.
func Milestones(start, deadline time.Time) []MilestoneSpec {
	mid := start.Add(deadline.Sub(start) / 2)
	return []MilestoneSpec{
		{
			Title:    "Midpoint review",
			Date:     mid,
			Criteria: []string{"Half of the tasks completed", "First results produced"},
		},
		{
			Title:    "Final review",
			Date:     deadline,
			Criteria: []string{"All tasks completed", "Goal outcome achieved"},
		},
	}
}

// experience answers map to a base number of days.
var baseDays = map[string]int{
	"1": 180, "beginner": 180,
	"2": 120, "basic": 120,
	"3": 90, "intermediate": 90,
	"4": 60, "advanced": 60,
}

// weekly time budget answers stretch the base duration.
var timeMultiplier = map[string]float64{
	"1": 2.0, "1-2": 2.0,
	"2": 1.5, "3-5": 1.5,
	"3": 1.2, "6-10": 1.2,
	"4": 1.0, "10+": 1.0,
}

// DeriveDeadline estimates a goal deadline from the user's experience
// level and weekly time budget. Unknown answers fall back to a beginner
// with three to five hours a week.
func DeriveDeadline(now time.Time, experience, availableTime string) time.Time {
	base, ok := baseDays[normalizeAnswer(experience)]
	if !ok {
		base = 180
	}
	mult, ok := timeMultiplier[normalizeAnswer(availableTime)]
	if !ok {
		mult = 1.5
	}
	return now.AddDate(0, 0, int(math.Round(float64(base)*mult)))
}

func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, " hours")
	s = strings.TrimSuffix(s, "h")
	return strings.TrimSpace(s)
}

// Progress is the percentage of completed tasks. Cancelled tasks leave the
// denominator, so a goal can still reach 100.
func Progress(tasks []types.Task) int {
	total, done := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case types.TaskCancelled:
			continue
		case types.TaskCompleted:
			done++
		}
		total++
	}
	if total == 0 {
		return 0
	}
	return done * 100 / total
}

// Reflow spreads n remaining tasks evenly between now and deadline, at
// least one day apart, and never past the deadline.
func Reflow(now, deadline time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	remaining := int(deadline.Sub(now).Hours() / 24)
	perTask := 1
	if remaining > 0 {
		perTask = remaining / (n + 1)
		if perTask < 1 {
			perTask = 1
		}
	}

	dues := make([]time.Time, n)
	cursor := now
	for i := range dues {
		cursor = cursor.AddDate(0, 0, perTask)
		if cursor.After(deadline) {
			dues[i] = deadline
			continue
		}
		dues[i] = cursor
	}
	return dues
}
