package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/nudge/internal/types"
	"github.com/hyperengineering/nudge/internal/validation"
)

const taskColumns = `
	t.id, t.user_id, t.title, t.description, t.due_date, t.start_date, t.status,
	t.completed_at, t.cancelled_at, t.cancel_reason, t.priority, t.category_id,
	COALESCE(c.name, ''), COALESCE(c.priority, 3),
	t.last_reminder_at, t.last_reminder_kind, t.reminder_count,
	t.last_overdue_reminder_at, t.upcoming_reminded_at, t.workload_warned_at,
	t.goal_id, t.task_order, t.plan, t.can_parallel, t.created_at, t.updated_at`

const taskFrom = ` FROM tasks t LEFT JOIN task_categories c ON c.id = t.category_id `

const liveStatuses = `('open', 'reminded')`

// EnsureCategory returns the category with the given name, creating it
// with the default priority when missing.
func (t *Tx) EnsureCategory(ctx context.Context, name string) (*types.Category, error) {
	if name == "" {
		name = types.DefaultCategory
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_categories (name, created_at) VALUES (?, ?)`,
		name, formatTime(t.now)); err != nil {
		return nil, fmt.Errorf("insert category: %w", err)
	}
	var c types.Category
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, priority FROM task_categories WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.Priority)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// CreateTask inserts a new task. ID, status, priority and timestamps are
// filled in when empty. The plan sub-document is validated before writing.
func (t *Tx) CreateTask(ctx context.Context, task *types.Task) error {
	if err := validation.Check(task.Plan); err != nil {
		return fmt.Errorf("invalid task plan: %w", err)
	}
	planJSON, err := json.Marshal(task.Plan)
	if err != nil {
		return fmt.Errorf("marshal task plan: %w", err)
	}

	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	if task.Status == "" {
		task.Status = types.TaskOpen
	}
	if task.Priority == "" {
		task.Priority = types.PriorityMedium
	}
	task.CreatedAt = t.now
	task.UpdatedAt = t.now

	var categoryID, goalID any
	if task.CategoryID != 0 {
		categoryID = task.CategoryID
	}
	if task.GoalID != "" {
		goalID = task.GoalID
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, user_id, title, description, due_date, start_date, status, priority,
			category_id, goal_id, task_order, plan, can_parallel, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.UserID, task.Title, task.Description,
		formatTime(task.DueDate), nullableTime(task.StartDate),
		string(task.Status), string(task.Priority),
		categoryID, goalID, task.Order, string(planJSON), boolInt(task.CanParallel),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask returns ErrNotFound for unknown ids.
func (t *Tx) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+taskColumns+taskFrom+`WHERE t.id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// ListOpenTasks returns a user's live tasks ordered by due date.
func (t *Tx) ListOpenTasks(ctx context.Context, userID int64) ([]types.Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+taskFrom+`
		WHERE t.user_id = ? AND t.status IN `+liveStatuses+`
		ORDER BY t.due_date, t.id`, userID)
}

// ListRecentTasks returns a user's most recently created tasks in any state.
func (t *Tx) ListRecentTasks(ctx context.Context, userID int64, limit int) ([]types.Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+taskFrom+`
		WHERE t.user_id = ?
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT ?`, userID, limit)
}

// ListUpcomingTasks returns live tasks due in (from, to] whose pre-due
// reminder has not been sent, grouped by user.
func (t *Tx) ListUpcomingTasks(ctx context.Context, from, to time.Time) ([]types.Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+taskFrom+`
		WHERE t.status IN `+liveStatuses+`
		  AND t.upcoming_reminded_at IS NULL
		  AND t.due_date > ? AND t.due_date <= ?
		ORDER BY t.user_id, t.due_date, t.id`, formatTime(from), formatTime(to))
}

// ListOverdueTasks returns live past-due tasks whose last overdue reminder
// is missing or older than floor.
func (t *Tx) ListOverdueTasks(ctx context.Context, now, floor time.Time) ([]types.Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+taskFrom+`
		WHERE t.status IN `+liveStatuses+`
		  AND t.due_date < ?
		  AND (t.last_overdue_reminder_at IS NULL OR t.last_overdue_reminder_at < ?)
		ORDER BY t.user_id, t.due_date, t.id`, formatTime(now), formatTime(floor))
}

// ListStaleMotivational returns live tasks, not yet due, whose last
// delivery was motivational and happened before floor.
func (t *Tx) ListStaleMotivational(ctx context.Context, now, floor time.Time) ([]types.Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+taskFrom+`
		WHERE t.status = 'reminded'
		  AND t.last_reminder_kind = 'motivational'
		  AND t.due_date >= ?
		  AND t.last_reminder_at < ?
		ORDER BY t.user_id, t.due_date, t.id`, formatTime(now), formatTime(floor))
}

// ListFutureOpenTasks returns every live task due after now.
func (t *Tx) ListFutureOpenTasks(ctx context.Context, now time.Time) ([]types.Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+taskFrom+`
		WHERE t.status IN `+liveStatuses+` AND t.due_date > ?
		ORDER BY t.due_date, t.id`, formatTime(now))
}

// ListUserTasksDueBetween returns a user's live tasks due in [from, to].
func (t *Tx) ListUserTasksDueBetween(ctx context.Context, userID int64, from, to time.Time) ([]types.Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+taskFrom+`
		WHERE t.user_id = ? AND t.status IN `+liveStatuses+`
		  AND t.due_date >= ? AND t.due_date <= ?
		ORDER BY t.due_date, t.id`, userID, formatTime(from), formatTime(to))
}

// CountCompletedSince counts tasks a user completed at or after since.
func (t *Tx) CountCompletedSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE user_id = ? AND status = 'completed' AND completed_at >= ?
	`, userID, formatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed tasks: %w", err)
	}
	return n, nil
}

// RecordReminder stamps a confirmed delivery: status becomes reminded, the
// counter increments and overdue deliveries also stamp the overdue marker.
// Returns ErrTerminal when the task was closed in the meantime.
func (t *Tx) RecordReminder(ctx context.Context, id string, kind types.ReminderKind, at time.Time) error {
	ts := formatTime(at)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET
			status = 'reminded',
			last_reminder_at = ?,
			last_reminder_kind = ?,
			reminder_count = reminder_count + 1,
			last_overdue_reminder_at = CASE WHEN ? = 'overdue' THEN ? ELSE last_overdue_reminder_at END,
			updated_at = ?
		WHERE id = ? AND status IN `+liveStatuses,
		ts, string(kind), string(kind), ts, formatTime(t.now), id)
	if err != nil {
		return fmt.Errorf("record reminder: %w", err)
	}
	return t.requireLiveUpdate(ctx, res, id)
}

// MarkUpcomingReminded sets the pre-due flag. Returns false when the flag
// was already set or the task is closed.
func (t *Tx) MarkUpcomingReminded(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET upcoming_reminded_at = ?, updated_at = ?
		WHERE id = ? AND status IN `+liveStatuses+` AND upcoming_reminded_at IS NULL
	`, formatTime(at), formatTime(t.now), id)
	if err != nil {
		return false, fmt.Errorf("mark upcoming reminded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark upcoming reminded: %w", err)
	}
	return n > 0, nil
}

// MarkWorkloadWarned stamps the tasks named in a workload warning. Tasks
// already stamped keep their first stamp.
func (t *Tx) MarkWorkloadWarned(ctx context.Context, ids []string, at time.Time) error {
	for _, id := range ids {
		_, err := t.tx.ExecContext(ctx, `
			UPDATE tasks SET workload_warned_at = ?, updated_at = ?
			WHERE id = ? AND workload_warned_at IS NULL
		`, formatTime(at), formatTime(t.now), id)
		if err != nil {
			return fmt.Errorf("mark workload warned: %w", err)
		}
	}
	return nil
}

// CompleteTask closes a live task as completed.
func (t *Tx) CompleteTask(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN `+liveStatuses,
		formatTime(at), formatTime(t.now), id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return t.requireLiveUpdate(ctx, res, id)
}

// CancelTask soft-deletes a live task.
func (t *Tx) CancelTask(ctx context.Context, id, reason string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'cancelled', cancelled_at = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ? AND status IN `+liveStatuses,
		formatTime(at), reason, formatTime(t.now), id)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return t.requireLiveUpdate(ctx, res, id)
}

// RescheduleTask moves a live task to a new due date and resets it to
// open, clearing the pre-due, workload and overdue markers so the new
// deadline gets the full reminder sequence.
func (t *Tx) RescheduleTask(ctx context.Context, id string, due time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET
			due_date = ?,
			status = 'open',
			last_reminder_kind = '',
			upcoming_reminded_at = NULL,
			workload_warned_at = NULL,
			last_overdue_reminder_at = NULL,
			updated_at = ?
		WHERE id = ? AND status IN `+liveStatuses,
		formatTime(due), formatTime(t.now), id)
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	return t.requireLiveUpdate(ctx, res, id)
}

// ListGoalTasks returns all tasks of a goal in plan order.
func (t *Tx) ListGoalTasks(ctx context.Context, goalID string) ([]types.Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+taskFrom+`
		WHERE t.goal_id = ?
		ORDER BY t.task_order, t.id`, goalID)
}

// CountIncompletePredecessors counts live goal siblings with a lower order.
// Cancelled siblings do not block.
func (t *Tx) CountIncompletePredecessors(ctx context.Context, goalID string, order int) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE goal_id = ? AND task_order > 0 AND task_order < ? AND status IN `+liveStatuses,
		goalID, order).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count predecessors: %w", err)
	}
	return n, nil
}

// requireLiveUpdate maps a zero-row guarded update to ErrNotFound or
// ErrTerminal.
func (t *Tx) requireLiveUpdate(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = t.tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check task status: %w", err)
	}
	return ErrTerminal
}

func (t *Tx) queryTasks(ctx context.Context, query string, args ...any) ([]types.Task, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			var corrupt *CorruptRowError
			if errors.As(err, &corrupt) {
				t.logger.Error("skipping corrupt task row",
					"component", "store",
					"task_id", corrupt.ID,
					"error", corrupt.Err,
				)
				continue
			}
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// CorruptRowError reports a row whose stored sub-document cannot be decoded.
type CorruptRowError struct {
	ID  string
	Err error
}

func (e *CorruptRowError) Error() string {
	return fmt.Sprintf("corrupt row %s: %v", e.ID, e.Err)
}

func (e *CorruptRowError) Unwrap() error {
	return e.Err
}

func scanTask(scanner interface{ Scan(...any) error }) (*types.Task, error) {
	var task types.Task
	var dueDate, status, priority, lastKind, planJSON, createdAt, updatedAt string
	var startDate, completedAt, cancelledAt, lastReminder, lastOverdue, upcoming, warned, goalID sql.NullString
	var categoryID sql.NullInt64
	var canParallel int

	err := scanner.Scan(
		&task.ID, &task.UserID, &task.Title, &task.Description, &dueDate, &startDate, &status,
		&completedAt, &cancelledAt, &task.CancelReason, &priority, &categoryID,
		&task.CategoryName, &task.CategoryPriority,
		&lastReminder, &lastKind, &task.ReminderCount,
		&lastOverdue, &upcoming, &warned,
		&goalID, &task.Order, &planJSON, &canParallel, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.DueDate = parseTime(dueDate)
	task.StartDate = scanNullTime(startDate)
	task.Status = types.TaskStatus(status)
	task.CompletedAt = scanNullTime(completedAt)
	task.CancelledAt = scanNullTime(cancelledAt)
	task.Priority = types.Priority(priority)
	task.CategoryID = categoryID.Int64
	task.LastReminderAt = scanNullTime(lastReminder)
	task.LastReminderKind = types.ReminderKind(lastKind)
	task.LastOverdueReminderAt = scanNullTime(lastOverdue)
	task.UpcomingRemindedAt = scanNullTime(upcoming)
	task.WorkloadWarnedAt = scanNullTime(warned)
	task.GoalID = goalID.String
	task.CanParallel = canParallel != 0
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)

	if task.DueDate.IsZero() {
		return nil, &CorruptRowError{ID: task.ID, Err: fmt.Errorf("unparseable due_date %q", dueDate)}
	}
	if planJSON != "" {
		if err := json.Unmarshal([]byte(planJSON), &task.Plan); err != nil {
			return nil, &CorruptRowError{ID: task.ID, Err: fmt.Errorf("decode plan: %w", err)}
		}
	}

	return &task, nil
}
