package reminder

import (
	"testing"
	"time"

	"github.com/hyperengineering/nudge/internal/types"
)

func stats(rate float64) *types.ReminderEffectiveness {
	return &types.ReminderEffectiveness{CompletionRate: rate, SampleSize: 20}
}

func TestNextInterval_Table(t *testing.T) {
	far := 48 * time.Hour
	tests := []struct {
		name     string
		eff      *types.ReminderEffectiveness
		untilDue time.Duration
		count    int
		want     time.Duration
	}{
		{"no record", nil, far, 0, 30 * time.Minute},
		{"empty record", &types.ReminderEffectiveness{}, far, 0, 30 * time.Minute},
		{"low rate", stats(0.2), far, 0, 15 * time.Minute},
		{"boundary 0.3 is neutral", stats(0.3), far, 0, 30 * time.Minute},
		{"middle rate", stats(0.5), far, 0, 30 * time.Minute},
		{"boundary 0.7 is neutral", stats(0.7), far, 0, 30 * time.Minute},
		{"high rate", stats(0.8), far, 0, 60 * time.Minute},
		{"due within 1h", stats(0.8), 45 * time.Minute, 0, 10 * time.Minute},
		{"due exactly 1h", nil, time.Hour, 0, 10 * time.Minute},
		{"due within 3h caps high rate", stats(0.8), 2 * time.Hour, 0, 20 * time.Minute},
		{"due within 3h keeps low rate", stats(0.2), 2 * time.Hour, 0, 15 * time.Minute},
		{"fatigue after 3", nil, far, 4, 45 * time.Minute},
		{"no fatigue at 3", nil, far, 3, 30 * time.Minute},
		{"fatigue with urgency", nil, 30 * time.Minute, 5, 15 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextInterval(tt.eff, tt.untilDue, tt.count); got != tt.want {
				t.Errorf("NextInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextInterval_MonotonicInCompletionRate(t *testing.T) {
	for _, untilDue := range []time.Duration{30 * time.Minute, 2 * time.Hour, 5 * time.Hour, 72 * time.Hour} {
		for _, count := range []int{0, 2, 4, 10} {
			low := NextInterval(stats(0.2), untilDue, count)
			mid := NextInterval(stats(0.5), untilDue, count)
			high := NextInterval(stats(0.8), untilDue, count)
			if !(low <= mid && mid <= high) {
				t.Errorf("untilDue=%v count=%d: %v, %v, %v not monotonic", untilDue, count, low, mid, high)
			}
		}
	}
}

func TestNextInterval_UrgencyOverride(t *testing.T) {
	for _, rate := range []float64{0, 0.1, 0.3, 0.5, 0.7, 0.9, 1} {
		if got := NextInterval(stats(rate), 30*time.Minute, 0); got > 10*time.Minute {
			t.Errorf("rate %.1f: interval %v for a task due in 30m, want <= 10m", rate, got)
		}
	}
}

func TestNextInterval_FatigueDamping(t *testing.T) {
	for _, eff := range []*types.ReminderEffectiveness{nil, stats(0.2), stats(0.5), stats(0.9)} {
		for _, untilDue := range []time.Duration{20 * time.Minute, 2 * time.Hour, 10 * time.Hour} {
			fresh := NextInterval(eff, untilDue, 0)
			tired := NextInterval(eff, untilDue, 4)
			if tired != time.Duration(float64(fresh)*1.5) {
				t.Errorf("interval(count=4) = %v, want 1.5 x %v", tired, fresh)
			}
		}
	}
}
