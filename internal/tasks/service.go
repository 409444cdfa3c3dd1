// Package tasks implements the user-facing task, finance and goal
// actions: creation from parsed intents, completion with goal ordering,
// cancellation and postponement. Every change that affects reminders
// re-registers or drops the task's trigger after the commit.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/goals"
	"github.com/hyperengineering/nudge/internal/reminder"
	"github.com/hyperengineering/nudge/internal/schedule"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/types"
)

var (
	// ErrInvalidPostpone is returned for postpone requests outside 1..365 days.
	ErrInvalidPostpone = errors.New("postpone days must be between 1 and 365")
	// ErrPlannerUnavailable is returned when goals cannot be planned.
	ErrPlannerUnavailable = errors.New("goal planner not configured")
)

// MaxPostponeDays bounds a single postponement.
const MaxPostponeDays = 365

// Reminders registers and drops per-task reminder triggers. Implemented by
// *worker.ReminderRunner.
type Reminders interface {
	Schedule(t schedule.Trigger) bool
	Unschedule(taskID string) bool
}

// GoalPlanner breaks a goal into steps. Implemented by *assistant.Planner.
type GoalPlanner interface {
	Plan(ctx context.Context, req assistant.PlanRequest) ([]goals.Step, error)
}

// Service performs task actions on behalf of a user.
type Service struct {
	uow       store.UnitOfWork
	reminders Reminders
	planner   GoalPlanner
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPlanner enables goal planning.
func WithPlanner(p GoalPlanner) Option {
	return func(s *Service) {
		s.planner = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service.
func NewService(uow store.UnitOfWork, reminders Reminders, opts ...Option) *Service {
	s := &Service{uow: uow, reminders: reminders, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTask stores a task from a parsed intent and registers its first
// reminder.
func (s *Service) CreateTask(ctx context.Context, userID int64, in assistant.TaskIntent) (*types.Task, error) {
	now := s.now()
	task := &types.Task{
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Priority:    in.Priority,
	}

	var eff *types.ReminderEffectiveness
	err := s.uow.Do(ctx, func(tx *store.Tx) error {
		cat, err := tx.EnsureCategory(ctx, in.Category)
		if err != nil {
			return err
		}
		task.CategoryID = cat.ID
		task.CategoryName = cat.Name
		task.CategoryPriority = cat.Priority
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		eff, err = tx.GetEffectiveness(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			eff, err = nil, nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.schedule(task, FirstReminderAt(now, task.DueDate, eff))
	s.logger.Info("task created",
		"component", "tasks",
		"action", "create",
		"user_id", userID,
		"task_id", task.ID,
	)
	return task, nil
}

// FirstReminderAt places the first reminder one adaptive interval from
// now, but never after the due time.
func FirstReminderAt(now, due time.Time, eff *types.ReminderEffectiveness) time.Time {
	at := now.Add(reminder.NextInterval(eff, due.Sub(now), 0))
	if at.After(due) {
		at = due
	}
	return at
}

// RecordFinance stores a ledger entry, or a recurring payment when the
// intent is recurring.
func (s *Service) RecordFinance(ctx context.Context, userID int64, in assistant.FinanceIntent) (*types.FinancialRecord, *types.RegularPayment, error) {
	if in.Recurring {
		p := &types.RegularPayment{
			UserID:          userID,
			Amount:          in.Amount,
			Currency:        in.Currency,
			Category:        in.Category,
			Description:     in.Description,
			Frequency:       in.Frequency,
			NextPaymentDate: in.NextPaymentDate,
			StartDate:       in.NextPaymentDate,
			EndDate:         in.EndDate,
			NoticeDays:      in.NoticeDays,
		}
		if err := s.uow.Do(ctx, func(tx *store.Tx) error {
			return tx.CreateRegularPayment(ctx, p)
		}); err != nil {
			return nil, nil, fmt.Errorf("create regular payment: %w", err)
		}
		return nil, p, nil
	}

	r := &types.FinancialRecord{
		UserID:      userID,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Category:    in.Category,
		Description: in.Description,
		Type:        in.Type,
		Date:        in.Date,
	}
	if err := s.uow.Do(ctx, func(tx *store.Tx) error {
		return tx.CreateFinancialRecord(ctx, r)
	}); err != nil {
		return nil, nil, fmt.Errorf("create financial record: %w", err)
	}
	return r, nil, nil
}

// ListOpen returns the user's live tasks by due date.
func (s *Service) ListOpen(ctx context.Context, userID int64) ([]types.Task, error) {
	var out []types.Task
	err := s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListOpenTasks(ctx, userID)
		return err
	})
	return out, err
}

// Completion is the outcome of completing a task.
type Completion struct {
	Task *types.Task `json:"task"`
	// Goal is set when the task belongs to a goal; its progress is
	// already recomputed.
	Goal *types.Goal `json:"goal,omitempty"`
	// Rescheduled are the later goal tasks moved to new due dates.
	Rescheduled []types.Task `json:"rescheduled,omitempty"`
}

// Complete closes a task. A goal task cannot complete while an earlier
// sibling is still live (store.ErrOutOfOrder). Completing a goal task
// recomputes the goal's progress and spreads the remaining tasks across
// the time left to the deadline.
func (s *Service) Complete(ctx context.Context, userID int64, taskID string) (*Completion, error) {
	now := s.now()
	var out *Completion

	err := s.uow.Do(ctx, func(tx *store.Tx) error {
		out = &Completion{}
		task, err := s.ownedLiveTask(ctx, tx, userID, taskID)
		if err != nil {
			return err
		}
		if task.GoalID != "" && task.Order > 0 {
			n, err := tx.CountIncompletePredecessors(ctx, task.GoalID, task.Order)
			if err != nil {
				return err
			}
			if n > 0 {
				return store.ErrOutOfOrder
			}
		}
		if err := tx.CompleteTask(ctx, task.ID, now); err != nil {
			return err
		}
		task.Status = types.TaskCompleted
		task.CompletedAt = &now
		out.Task = task

		if task.GoalID == "" {
			return nil
		}
		return s.advanceGoal(ctx, tx, task, now, out)
	})
	if err != nil {
		return nil, err
	}

	s.reminders.Unschedule(taskID)
	for i := range out.Rescheduled {
		t := &out.Rescheduled[i]
		s.schedule(t, FirstReminderAt(now, t.DueDate, nil))
	}
	s.logger.Info("task completed",
		"component", "tasks",
		"action", "complete",
		"user_id", userID,
		"task_id", taskID,
		"rescheduled", len(out.Rescheduled),
	)
	return out, nil
}

func (s *Service) advanceGoal(ctx context.Context, tx *store.Tx, done *types.Task, now time.Time, out *Completion) error {
	goal, err := tx.GetGoal(ctx, done.GoalID)
	if err != nil {
		return fmt.Errorf("load goal: %w", err)
	}
	siblings, err := tx.ListGoalTasks(ctx, goal.ID)
	if err != nil {
		return err
	}

	goal.Progress = goals.Progress(siblings)
	if err := tx.UpdateGoalProgress(ctx, goal.ID, goal.Progress); err != nil {
		return err
	}
	out.Goal = goal

	var later []types.Task
	for _, t := range siblings {
		if t.Order > done.Order && !t.IsTerminal() {
			later = append(later, t)
		}
	}
	dues := goals.Reflow(now, goal.Deadline, len(later))
	for i := range later {
		if err := tx.RescheduleTask(ctx, later[i].ID, dues[i]); err != nil {
			return err
		}
		later[i].DueDate = dues[i]
		later[i].Status = types.TaskOpen
	}
	out.Rescheduled = later
	return nil
}

// Cancel soft-deletes a task with a reason.
func (s *Service) Cancel(ctx context.Context, userID int64, taskID, reason string) (*types.Task, error) {
	now := s.now()
	var task *types.Task
	err := s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		if task, err = s.ownedLiveTask(ctx, tx, userID, taskID); err != nil {
			return err
		}
		return tx.CancelTask(ctx, taskID, reason, now)
	})
	if err != nil {
		return nil, err
	}
	task.Status = types.TaskCancelled
	task.CancelledAt = &now
	task.CancelReason = reason

	s.reminders.Unschedule(taskID)
	s.logger.Info("task cancelled",
		"component", "tasks",
		"action", "cancel",
		"user_id", userID,
		"task_id", taskID,
	)
	return task, nil
}

// Postpone moves a task's due date to days from now and restarts its
// reminder sequence.
func (s *Service) Postpone(ctx context.Context, userID int64, taskID string, days int) (*types.Task, error) {
	if days < 1 || days > MaxPostponeDays {
		return nil, ErrInvalidPostpone
	}
	now := s.now()
	due := now.AddDate(0, 0, days)

	var task *types.Task
	err := s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		if task, err = s.ownedLiveTask(ctx, tx, userID, taskID); err != nil {
			return err
		}
		return tx.RescheduleTask(ctx, taskID, due)
	})
	if err != nil {
		return nil, err
	}
	task.DueDate = due
	task.Status = types.TaskOpen
	task.UpcomingRemindedAt = nil
	task.WorkloadWarnedAt = nil
	task.LastOverdueReminderAt = nil

	s.schedule(task, FirstReminderAt(now, due, nil))
	s.logger.Info("task postponed",
		"component", "tasks",
		"action", "postpone",
		"user_id", userID,
		"task_id", taskID,
		"days", days,
	)
	return task, nil
}

// ownedLiveTask loads a task and checks it belongs to userID and is still
// live. Foreign tasks are reported as not found.
func (s *Service) ownedLiveTask(ctx context.Context, tx *store.Tx, userID int64, taskID string) (*types.Task, error) {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, store.ErrNotFound
	}
	if task.IsTerminal() {
		return nil, store.ErrTerminal
	}
	return task, nil
}

func (s *Service) schedule(task *types.Task, at time.Time) {
	s.reminders.Schedule(schedule.Trigger{
		At:     at,
		UserID: task.UserID,
		TaskID: task.ID,
		Kind:   types.ReminderRegular,
	})
}
