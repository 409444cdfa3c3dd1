package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/metrics"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/types"
)

// SoonWindow is how far ahead the daily summary looks past today.
const SoonWindow = 48 * time.Hour

// DailySummary sends each user an overview of overdue, today's and soon
// due tasks, and how many they finished since midnight.
type DailySummary struct {
	uow      store.UnitOfWork
	notifier Notifier
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// NewDailySummary creates the job.
func NewDailySummary(uow store.UnitOfWork, n Notifier, loc *time.Location, logger *slog.Logger) *DailySummary {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DailySummary{uow: uow, notifier: n, loc: loc, logger: logger, now: time.Now}
}

// Digest groups a user's live tasks for the summary.
type Digest struct {
	Overdue   []types.Task
	Today     []types.Task
	Soon      []types.Task
	Completed int
}

// Empty reports whether there is nothing to tell the user.
func (d Digest) Empty() bool {
	return len(d.Overdue) == 0 && len(d.Today) == 0 && len(d.Soon) == 0 && d.Completed == 0
}

// BuildDigest partitions open tasks relative to now. Each group is
// ordered by category priority, then due date.
func BuildDigest(open []types.Task, completed int, now time.Time, loc *time.Location) Digest {
	endOfDay := startOfDay(now, loc).AddDate(0, 0, 1)
	soon := now.Add(SoonWindow)

	d := Digest{Completed: completed}
	for _, t := range open {
		switch {
		case t.DueDate.Before(now):
			d.Overdue = append(d.Overdue, t)
		case t.DueDate.Before(endOfDay):
			d.Today = append(d.Today, t)
		case !t.DueDate.After(soon):
			d.Soon = append(d.Soon, t)
		}
	}
	for _, group := range [][]types.Task{d.Overdue, d.Today, d.Soon} {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].CategoryPriority != group[j].CategoryPriority {
				return group[i].CategoryPriority < group[j].CategoryPriority
			}
			return group[i].DueDate.Before(group[j].DueDate)
		})
	}
	return d
}

// Render formats the digest as plain text.
func (d Digest) Render(loc *time.Location) string {
	var b strings.Builder
	section := func(title string, tasks []types.Task, layout string) {
		if len(tasks) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s:\n", title)
		for _, t := range tasks {
			fmt.Fprintf(&b, "- %s (%s)\n", t.Title, t.DueDate.In(loc).Format(layout))
		}
	}
	section("Overdue", d.Overdue, DueLayout)
	section("Today", d.Today, "15:04")
	section("Next two days", d.Soon, DueLayout)
	fmt.Fprintf(&b, "Completed today: %d", d.Completed)
	return b.String()
}

// Run sends the summary to every user with something to report.
func (s *DailySummary) Run(ctx context.Context) error {
	now := s.now()
	midnight := startOfDay(now, s.loc)

	var users []types.User
	if err := s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		users, err = tx.ListUsers(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	var sent, failed int
	for i := range users {
		if ctx.Err() != nil {
			return nil
		}
		user := &users[i]

		var open []types.Task
		var completed int
		err := s.uow.Do(ctx, func(tx *store.Tx) error {
			var err error
			if open, err = tx.ListOpenTasks(ctx, user.ID); err != nil {
				return err
			}
			completed, err = tx.CountCompletedSince(ctx, user.ID, midnight)
			return err
		})
		if err != nil {
			failed++
			s.logger.Error("load daily summary failed",
				"component", "worker",
				"worker", "daily-summary",
				"user_id", user.ID,
				"error", err,
			)
			continue
		}

		digest := BuildDigest(open, completed, now, s.loc)
		if digest.Empty() {
			continue
		}

		_, err = s.notifier.Notify(ctx, user, assistant.KindDailySummary, map[string]string{
			"summary": digest.Render(s.loc),
			"count":   strconv.Itoa(len(digest.Overdue) + len(digest.Today) + len(digest.Soon)),
		}, nil)
		if err != nil {
			failed++
			metrics.DeliveryFailures.WithLabelValues("daily-summary").Inc()
			s.logger.Error("daily summary delivery failed",
				"component", "worker",
				"worker", "daily-summary",
				"user_id", user.ID,
				"error", err,
			)
			continue
		}
		sent++
	}

	s.logger.Info("daily summary completed",
		"component", "worker",
		"worker", "daily-summary",
		"users_total", len(users),
		"users_sent", sent,
		"users_failed", failed,
	)
	return nil
}
