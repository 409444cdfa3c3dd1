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

// OverdueSweep re-triggers the kinds that do not chain themselves:
// overdue tasks and tasks whose last reminder was motivational. The
// dispatcher enforces the repeat floor again at fire time.
type OverdueSweep struct {
	uow    store.UnitOfWork
	runner *ReminderRunner
	floor  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewOverdueSweep creates the sweep. floor is the minimum gap between two
// overdue deliveries for the same task.
func NewOverdueSweep(uow store.UnitOfWork, runner *ReminderRunner, floor time.Duration, logger *slog.Logger) *OverdueSweep {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverdueSweep{uow: uow, runner: runner, floor: floor, logger: logger, now: time.Now}
}

// Run performs one sweep.
func (s *OverdueSweep) Run(ctx context.Context) error {
	now := s.now()
	cutoff := now.Add(-s.floor)

	var overdue, stale []types.Task
	err := s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		if overdue, err = tx.ListOverdueTasks(ctx, now, cutoff); err != nil {
			return err
		}
		stale, err = tx.ListStaleMotivational(ctx, now, cutoff)
		return err
	})
	if err != nil {
		return fmt.Errorf("list overdue tasks: %w", err)
	}

	counts := make(map[reminder.Outcome]int)
	fire := func(t types.Task, kind types.ReminderKind) {
		res, err := s.runner.Fire(ctx, schedule.Trigger{At: now, UserID: t.UserID, TaskID: t.ID, Kind: kind})
		counts[res.Outcome]++
		if err != nil {
			s.logger.Error("overdue sweep delivery failed",
				"component", "worker",
				"worker", "overdue-sweep",
				"task_id", t.ID,
				"kind", kind,
				"error", err,
			)
		}
	}

	for _, t := range overdue {
		if ctx.Err() != nil {
			return nil
		}
		fire(t, types.ReminderOverdue)
	}
	for _, t := range stale {
		if ctx.Err() != nil {
			return nil
		}
		fire(t, types.ReminderMotivational)
	}

	if len(overdue)+len(stale) > 0 {
		s.logger.Info("overdue sweep completed",
			"component", "worker",
			"worker", "overdue-sweep",
			"overdue", len(overdue),
			"motivational", len(stale),
			"sent", counts[reminder.OutcomeSent],
			"skipped", counts[reminder.OutcomeSkipped],
			"failed", counts[reminder.OutcomeFailed],
		)
	}
	return nil
}
