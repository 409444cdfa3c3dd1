package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/nudge/internal/reminder"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/types"
)

// EffectivenessTracker recomputes every user's reminder statistics from
// their most recent tasks. A failure for one user does not stop the rest.
type EffectivenessTracker struct {
	uow    store.UnitOfWork
	logger *slog.Logger
	now    func() time.Time
}

// NewEffectivenessTracker creates the tracker.
func NewEffectivenessTracker(uow store.UnitOfWork, logger *slog.Logger) *EffectivenessTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &EffectivenessTracker{uow: uow, logger: logger, now: time.Now}
}

// Run recomputes all users.
func (t *EffectivenessTracker) Run(ctx context.Context) error {
	_, err := t.RecomputeAll(ctx)
	return err
}

// RecomputeAll returns the statistics that were stored.
func (t *EffectivenessTracker) RecomputeAll(ctx context.Context) ([]types.ReminderEffectiveness, error) {
	var users []types.User
	if err := t.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		users, err = tx.ListUsers(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var out []types.ReminderEffectiveness
	var failed int
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		eff, err := t.Recompute(ctx, u.ID)
		if err != nil {
			failed++
			t.logger.Error("effectiveness recompute failed",
				"component", "worker",
				"worker", "effectiveness-tracker",
				"user_id", u.ID,
				"error", err,
			)
			continue
		}
		out = append(out, eff)
	}

	t.logger.Info("effectiveness recompute completed",
		"component", "worker",
		"worker", "effectiveness-tracker",
		"users_total", len(users),
		"users_updated", len(out),
		"users_failed", failed,
	)
	return out, nil
}

// Recompute derives and stores one user's statistics.
func (t *EffectivenessTracker) Recompute(ctx context.Context, userID int64) (types.ReminderEffectiveness, error) {
	var eff types.ReminderEffectiveness
	err := t.uow.Do(ctx, func(tx *store.Tx) error {
		tasks, err := tx.ListRecentTasks(ctx, userID, reminder.RecentWindow)
		if err != nil {
			return err
		}
		eff = reminder.ComputeEffectiveness(userID, tasks, tx.Now())
		return tx.UpsertEffectiveness(ctx, &eff)
	})
	return eff, err
}
