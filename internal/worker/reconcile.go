package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/nudge/internal/reminder"
	"github.com/hyperengineering/nudge/internal/schedule"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/types"
)

// Reconciler re-registers reminder triggers for future-due tasks after a
// restart, since one-shot triggers live only in memory.
type Reconciler struct {
	uow    store.UnitOfWork
	runner *ReminderRunner
	delay  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates the reconciler. delay postpones the first
// reminder of tasks that have not been reminded recently.
func NewReconciler(uow store.UnitOfWork, runner *ReminderRunner, delay time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{uow: uow, runner: runner, delay: delay, logger: logger, now: time.Now}
}

// Run registers one trigger per live future task and returns how many
// were registered.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	now := r.now()

	var tasks []types.Task
	if err := r.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		tasks, err = tx.ListFutureOpenTasks(ctx, now)
		return err
	}); err != nil {
		return 0, fmt.Errorf("list future tasks: %w", err)
	}

	registered := 0
	for _, t := range tasks {
		if r.runner.Schedule(schedule.Trigger{
			At:     ReconcileAt(t, now, r.delay),
			UserID: t.UserID,
			TaskID: t.ID,
			Kind:   types.ReminderRegular,
		}) {
			registered++
		}
	}

	r.logger.Info("reminder triggers reconciled",
		"component", "worker",
		"worker", "reconciler",
		"tasks_total", len(tasks),
		"triggers_registered", registered,
	)
	return registered, nil
}

// ReconcileAt picks when a recovered task is next reminded: after delay,
// or one default interval after its last reminder when that is later.
func ReconcileAt(t types.Task, now time.Time, delay time.Duration) time.Time {
	at := now.Add(delay)
	if t.LastReminderAt != nil {
		if next := t.LastReminderAt.Add(reminder.DefaultInterval); next.After(at) {
			at = next
		}
	}
	return at
}
