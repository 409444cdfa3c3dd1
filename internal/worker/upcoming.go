package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/guard"
	"github.com/hyperengineering/nudge/internal/metrics"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/transport"
	"github.com/hyperengineering/nudge/internal/types"
)

// CollisionSpan is how close two due times must be to count as a workload
// collision.
const CollisionSpan = time.Hour

// UpcomingConfig tunes the upcoming sweep.
type UpcomingConfig struct {
	// Window is how far ahead a task gets its pre-due reminder.
	Window time.Duration
	// WorkloadWindow is how far ahead tasks are considered for collisions.
	WorkloadWindow time.Duration
	Location       *time.Location
	GuardTTL       time.Duration
}

// UpcomingSweep sends the one-time pre-due reminder, preceded by a
// workload warning when several tasks are due close together.
type UpcomingSweep struct {
	uow      store.UnitOfWork
	notifier Notifier
	guard    guard.Guard
	cfg      UpcomingConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewUpcomingSweep creates the sweep.
func NewUpcomingSweep(uow store.UnitOfWork, n Notifier, g guard.Guard, cfg UpcomingConfig, logger *slog.Logger) *UpcomingSweep {
	if logger == nil {
		logger = slog.Default()
	}
	if g == nil {
		g = guard.NewMemoryGuard()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.WorkloadWindow < cfg.Window {
		cfg.WorkloadWindow = cfg.Window
	}
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = 10 * time.Minute
	}
	return &UpcomingSweep{uow: uow, notifier: n, guard: g, cfg: cfg, logger: logger, now: time.Now}
}

// Run performs one sweep.
func (s *UpcomingSweep) Run(ctx context.Context) error {
	now := s.now()

	var tasks []types.Task
	users := make(map[int64]*types.User)
	err := s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		tasks, err = tx.ListUpcomingTasks(ctx, now, now.Add(s.cfg.WorkloadWindow))
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if _, ok := users[t.UserID]; ok {
				continue
			}
			u, err := tx.GetUser(ctx, t.UserID)
			if err != nil {
				return err
			}
			users[t.UserID] = u
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list upcoming tasks: %w", err)
	}

	byUser := make(map[int64][]types.Task)
	var order []int64
	for _, t := range tasks {
		if _, ok := byUser[t.UserID]; !ok {
			order = append(order, t.UserID)
		}
		byUser[t.UserID] = append(byUser[t.UserID], t)
	}

	var sent, failed int
	for _, userID := range order {
		if ctx.Err() != nil {
			return nil
		}
		n, f := s.sweepUser(ctx, users[userID], byUser[userID], now)
		sent += n
		failed += f
	}

	if sent > 0 || failed > 0 {
		s.logger.Info("upcoming sweep completed",
			"component", "worker",
			"worker", "upcoming-sweep",
			"tasks_sent", sent,
			"tasks_failed", failed,
		)
	}
	return nil
}

func (s *UpcomingSweep) sweepUser(ctx context.Context, user *types.User, tasks []types.Task, now time.Time) (sent, failed int) {
	limit := now.Add(s.cfg.Window)
	warned := false

	for i := range tasks {
		task := &tasks[i]
		if task.DueDate.After(limit) {
			continue
		}

		// A task already named in an earlier warning does not open a new
		// one; otherwise overlapping clusters would be reported again as
		// each member enters the window.
		if !warned && task.WorkloadWarnedAt == nil {
			if cluster := collisions(tasks, task.DueDate); len(cluster) >= 2 {
				warned = true
				s.warnWorkload(ctx, user, cluster, now)
			}
		}

		ok, err := s.remind(ctx, user, task, now)
		switch {
		case err != nil:
			failed++
			s.logger.Error("upcoming reminder failed",
				"component", "worker",
				"worker", "upcoming-sweep",
				"task_id", task.ID,
				"user_id", user.ID,
				"error", err,
			)
		case ok:
			sent++
		}
	}
	return sent, failed
}

func (s *UpcomingSweep) remind(ctx context.Context, user *types.User, task *types.Task, now time.Time) (bool, error) {
	key := "upcoming:" + task.ID
	held, err := s.guard.Acquire(ctx, key, s.cfg.GuardTTL)
	if err != nil {
		s.logger.Warn("delivery guard unavailable, continuing without it",
			"component", "worker",
			"worker", "upcoming-sweep",
			"error", err,
		)
	} else if !held {
		return false, nil
	}
	defer s.guard.Release(context.WithoutCancel(ctx), key)

	_, err = s.notifier.Notify(ctx, user, assistant.KindUpcoming, map[string]string{
		"task_title": task.Title,
		"due_date":   task.DueDate.In(s.cfg.Location).Format(DueLayout),
	}, transport.TaskActions(task.ID))
	if err != nil {
		metrics.DeliveryFailures.WithLabelValues("upcoming").Inc()
		return false, fmt.Errorf("send upcoming reminder: %w", err)
	}

	var marked bool
	err = s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		marked, err = tx.MarkUpcomingReminded(ctx, task.ID, now)
		return err
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return true, fmt.Errorf("mark upcoming reminded: %w", err)
	}
	if !marked {
		s.logger.Warn("upcoming flag not set, task changed during delivery",
			"component", "worker",
			"worker", "upcoming-sweep",
			"task_id", task.ID,
		)
	}
	return true, nil
}

func (s *UpcomingSweep) warnWorkload(ctx context.Context, user *types.User, cluster []types.Task, now time.Time) {
	lines := make([]string, len(cluster))
	for i, t := range cluster {
		lines[i] = fmt.Sprintf("- %s (%s)", t.Title, t.DueDate.In(s.cfg.Location).Format("15:04"))
	}
	_, err := s.notifier.Notify(ctx, user, assistant.KindWorkloadWarning, map[string]string{
		"count":    strconv.Itoa(len(cluster)),
		"due_date": cluster[0].DueDate.In(s.cfg.Location).Format(DueLayout),
		"tasks":    strings.Join(lines, "\n"),
	}, nil)
	if err != nil {
		metrics.DeliveryFailures.WithLabelValues("upcoming").Inc()
		s.logger.Error("workload warning failed",
			"component", "worker",
			"worker", "upcoming-sweep",
			"user_id", user.ID,
			"error", err,
		)
		return
	}

	ids := make([]string, len(cluster))
	for i, t := range cluster {
		ids[i] = t.ID
	}
	err = s.uow.Do(ctx, func(tx *store.Tx) error {
		return tx.MarkWorkloadWarned(ctx, ids, now)
	})
	if err != nil {
		s.logger.Error("workload warning not recorded",
			"component", "worker",
			"worker", "upcoming-sweep",
			"user_id", user.ID,
			"error", err,
		)
	}
}

// collisions returns the tasks due within CollisionSpan of at, in due
// order.
func collisions(tasks []types.Task, at time.Time) []types.Task {
	var out []types.Task
	for _, t := range tasks {
		d := t.DueDate.Sub(at)
		if d >= -CollisionSpan && d <= CollisionSpan {
			out = append(out, t)
		}
	}
	return out
}
