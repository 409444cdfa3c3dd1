package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/nudge/internal/reminder"
	"github.com/hyperengineering/nudge/internal/schedule"
)

// Registrar accepts one-shot triggers. Implemented by *schedule.Scheduler.
type Registrar interface {
	Once(name string, at time.Time, job schedule.Job) bool
	Cancel(name string) bool
}

// Dispatcher delivers a single reminder. Implemented by *reminder.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, req reminder.Request) (reminder.Result, error)
}

// ReminderRunner connects reminder triggers to the dispatcher and
// re-registers whatever next trigger a dispatch returns.
type ReminderRunner struct {
	reg        Registrar
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewReminderRunner creates a runner.
func NewReminderRunner(reg Registrar, d Dispatcher, logger *slog.Logger) *ReminderRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderRunner{reg: reg, dispatcher: d, logger: logger}
}

// Schedule registers t, replacing any pending trigger for the same task.
func (r *ReminderRunner) Schedule(t schedule.Trigger) bool {
	ok := r.reg.Once(t.Name(), t.At, func(ctx context.Context) error {
		_, err := r.Fire(ctx, t)
		return err
	})
	if !ok {
		r.logger.Warn("reminder trigger rejected, scheduler closed",
			"component", "worker",
			"worker", "reminder-runner",
			"task_id", t.TaskID,
		)
		return false
	}
	r.logger.Debug("reminder trigger registered",
		"component", "worker",
		"worker", "reminder-runner",
		"task_id", t.TaskID,
		"at", t.At,
	)
	return true
}

// Unschedule drops the pending trigger for a task, if any.
func (r *ReminderRunner) Unschedule(taskID string) bool {
	return r.reg.Cancel(schedule.Trigger{TaskID: taskID}.Name())
}

// Fire dispatches t now and registers the next trigger, including the
// retry trigger a failed delivery returns.
func (r *ReminderRunner) Fire(ctx context.Context, t schedule.Trigger) (reminder.Result, error) {
	res, err := r.dispatcher.Dispatch(ctx, reminder.Request{UserID: t.UserID, TaskID: t.TaskID, Kind: t.Kind})
	if res.Next != nil {
		r.Schedule(*res.Next)
	}
	return res, err
}
