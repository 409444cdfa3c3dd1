package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/guard"
	"github.com/hyperengineering/nudge/internal/metrics"
	"github.com/hyperengineering/nudge/internal/schedule"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/transport"
	"github.com/hyperengineering/nudge/internal/types"
)

// Outcome summarizes what one dispatch did.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDeferred Outcome = "deferred"
	OutcomeFailed   Outcome = "failed"
)

// Skip reasons.
const (
	ReasonInFlight      = "in_flight"
	ReasonNotFound      = "not_found"
	ReasonUserNotFound  = "user_not_found"
	ReasonOwnerMismatch = "owner_mismatch"
	ReasonTerminal      = "terminal"
	ReasonOverdueFloor  = "overdue_floor"
	ReasonRepeatFloor   = "repeat_floor"
	ReasonStateChanged  = "state_changed"
	ReasonHorizon       = "beyond_horizon"
)

// Request asks for one reminder delivery. Kind is the kind the trigger
// was registered with; the dispatcher re-derives the kind at fire time.
type Request struct {
	UserID int64
	TaskID string
	Kind   types.ReminderKind
}

// Result reports the dispatch outcome and, for self-chaining kinds, the
// next trigger the caller should register.
type Result struct {
	Outcome Outcome
	Reason  string
	Kind    types.ReminderKind
	Next    *schedule.Trigger
}

// Options tune the dispatcher.
type Options struct {
	// Location formats due dates in messages.
	Location *time.Location
	// Horizon defers regular reminders for tasks due further out.
	Horizon time.Duration
	// RepeatFloor is the minimum gap between two overdue (or two
	// motivational) deliveries for the same task.
	RepeatFloor time.Duration
	// GuardTTL bounds how long an in-flight delivery lock is held.
	GuardTTL time.Duration
}

// Dispatcher performs one reminder delivery at a time: load, pick kind,
// render, send, record, and return the next trigger.
type Dispatcher struct {
	uow      store.UnitOfWork
	composer *assistant.Composer
	sender   transport.Sender
	guard    guard.Guard
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(uow store.UnitOfWork, composer *assistant.Composer, sender transport.Sender, g guard.Guard, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.GuardTTL <= 0 {
		opts.GuardTTL = 10 * time.Minute
	}
	if g == nil {
		g = guard.NewMemoryGuard()
	}
	return &Dispatcher{
		uow:      uow,
		composer: composer,
		sender:   sender,
		guard:    g,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Dispatch delivers at most one reminder for the requested task.
// Missing, foreign or closed tasks are warning-level no-ops. The state is
// only updated after the transport confirms the send; a failed send
// returns an error and, for self-chaining kinds, a retry trigger.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	now := d.now()
	log := d.logger.With(
		"component", "reminder",
		"task_id", req.TaskID,
		"user_id", req.UserID,
	)

	lockKey := "dispatch:" + req.TaskID
	held, err := d.guard.Acquire(ctx, lockKey, d.opts.GuardTTL)
	switch {
	case err != nil:
		log.Warn("delivery guard unavailable, continuing without it", "error", err)
	case !held:
		log.Debug("reminder already in flight")
		return Result{Outcome: OutcomeSkipped, Reason: ReasonInFlight}, nil
	}
	defer func() {
		if err := d.guard.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			log.Warn("release delivery guard failed", "error", err)
		}
	}()

	var (
		task *types.Task
		user *types.User
		eff  *types.ReminderEffectiveness
	)
	err = d.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		if task, err = tx.GetTask(ctx, req.TaskID); err != nil {
			return err
		}
		if user, err = tx.GetUser(ctx, task.UserID); err != nil {
			return err
		}
		eff, err = tx.GetEffectiveness(ctx, task.UserID)
		if errors.Is(err, store.ErrNotFound) {
			eff, err = nil, nil
		}
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound) && task == nil:
		log.Warn("reminder target missing, skipping")
		return Result{Outcome: OutcomeSkipped, Reason: ReasonNotFound}, nil
	case errors.Is(err, store.ErrNotFound):
		log.Warn("reminder owner missing, skipping")
		return Result{Outcome: OutcomeSkipped, Reason: ReasonUserNotFound}, nil
	case err != nil:
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("load task %s: %w", req.TaskID, err)
	}

	if task.UserID != req.UserID {
		log.Warn("reminder owner mismatch, skipping", "owner_id", task.UserID)
		return Result{Outcome: OutcomeSkipped, Reason: ReasonOwnerMismatch}, nil
	}
	if task.IsTerminal() {
		log.Warn("task already closed, skipping", "status", task.Status)
		return Result{Outcome: OutcomeSkipped, Reason: ReasonTerminal}, nil
	}

	untilDue := task.DueDate.Sub(now)
	kind := SelectKind(untilDue, eff)
	floor := now.Add(-d.opts.RepeatFloor)

	// The horizon holds for every kind, including upgrades from the
	// user's statistics.
	if d.opts.Horizon > 0 && untilDue > d.opts.Horizon {
		next := d.trigger(task, task.DueDate.Add(-d.opts.Horizon))
		return Result{Outcome: OutcomeDeferred, Reason: ReasonHorizon, Kind: kind, Next: next}, nil
	}

	switch kind {
	case types.ReminderOverdue:
		if last := task.LastOverdueReminderAt; last != nil && !last.Before(floor) {
			log.Debug("overdue reminder sent recently, skipping")
			return Result{Outcome: OutcomeSkipped, Reason: ReasonOverdueFloor, Kind: kind}, nil
		}
	case types.ReminderMotivational:
		if task.LastReminderKind == types.ReminderMotivational && task.LastReminderAt != nil && !task.LastReminderAt.Before(floor) {
			log.Debug("motivational reminder sent recently, skipping")
			return Result{Outcome: OutcomeSkipped, Reason: ReasonRepeatFloor, Kind: kind}, nil
		}
	}

	text := d.composer.Compose(ctx, assistant.Message{
		Kind:   messageKind(kind),
		Tone:   user.Tone,
		Params: d.params(task, now),
	})

	if err := d.sender.Send(ctx, user.ChatID, text, transport.TaskActions(task.ID)); err != nil {
		metrics.DeliveryFailures.WithLabelValues("dispatch").Inc()
		log.Error("reminder delivery failed", "kind", kind, "error", err)
		res := Result{Outcome: OutcomeFailed, Kind: kind}
		if kind.SelfChaining() {
			res.Next = d.trigger(task, now.Add(NextInterval(eff, untilDue, task.ReminderCount)))
		}
		return res, fmt.Errorf("deliver reminder for task %s: %w", task.ID, err)
	}

	err = d.uow.Do(ctx, func(tx *store.Tx) error {
		return tx.RecordReminder(ctx, task.ID, kind, now)
	})
	switch {
	case errors.Is(err, store.ErrTerminal), errors.Is(err, store.ErrNotFound):
		log.Warn("task changed during delivery, not recording", "kind", kind)
		return Result{Outcome: OutcomeSent, Reason: ReasonStateChanged, Kind: kind}, nil
	case err != nil:
		return Result{Outcome: OutcomeSent, Kind: kind}, fmt.Errorf("record reminder for task %s: %w", task.ID, err)
	}

	metrics.RemindersSent.WithLabelValues(string(kind)).Inc()
	log.Info("reminder sent",
		"kind", kind,
		"reminder_count", task.ReminderCount+1,
	)

	res := Result{Outcome: OutcomeSent, Kind: kind}
	if kind.SelfChaining() {
		res.Next = d.trigger(task, now.Add(NextInterval(eff, untilDue, task.ReminderCount+1)))
	}
	return res, nil
}

func (d *Dispatcher) trigger(task *types.Task, at time.Time) *schedule.Trigger {
	return &schedule.Trigger{
		At:     at,
		UserID: task.UserID,
		TaskID: task.ID,
		Kind:   types.ReminderRegular,
	}
}

func (d *Dispatcher) params(task *types.Task, now time.Time) map[string]string {
	p := map[string]string{
		"task_title":     task.Title,
		"due_date":       task.DueDate.In(d.opts.Location).Format("Mon 02 Jan 15:04"),
		"priority":       string(task.Priority),
		"category":       task.CategoryName,
		"reminder_count": strconv.Itoa(task.ReminderCount + 1),
	}
	if task.Description != "" {
		p["description"] = task.Description
	}
	if elapsed := now.Sub(task.DueDate); elapsed > 0 {
		severity, text := OverdueSeverity(elapsed)
		p["overdue_time"] = text
		p["severity"] = string(severity)
	}
	return p
}

func messageKind(kind types.ReminderKind) assistant.MessageKind {
	switch kind {
	case types.ReminderUrgent:
		return assistant.KindReminderUrgent
	case types.ReminderOverdue:
		return assistant.KindReminderOverdue
	case types.ReminderMotivational:
		return assistant.KindReminderMotivational
	default:
		return assistant.KindReminderRegular
	}
}
