package schedule

import (
	"time"

	"github.com/hyperengineering/nudge/internal/types"
)

// Trigger describes a future reminder delivery for one task.
// Dispatch returns one instead of registering it, and the runner decides
// where it goes.
type Trigger struct {
	At     time.Time          `json:"at"`
	UserID int64              `json:"user_id"`
	TaskID string             `json:"task_id"`
	Kind   types.ReminderKind `json:"kind"`
}

// Name keys the trigger by task, so a task has at most one pending
// reminder and re-registering replaces it.
func (t Trigger) Name() string {
	return "reminder:" + t.TaskID
}
