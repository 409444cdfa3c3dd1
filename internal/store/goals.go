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
)

// CreateGoal inserts a goal with zero progress.
func (t *Tx) CreateGoal(ctx context.Context, g *types.Goal) error {
	if g.ID == "" {
		g.ID = ulid.Make().String()
	}
	g.Progress = 0
	g.CreatedAt = t.now
	g.UpdatedAt = t.now

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO goals (id, user_id, title, description, deadline, progress,
			experience, available_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
	`, g.ID, g.UserID, g.Title, g.Description, formatTime(g.Deadline),
		g.Experience, g.AvailableTime, formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

// GetGoal returns ErrNotFound for unknown ids.
func (t *Tx) GetGoal(ctx context.Context, id string) (*types.Goal, error) {
	var g types.Goal
	var deadline, createdAt, updatedAt string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, deadline, progress,
		       experience, available_time, created_at, updated_at
		FROM goals WHERE id = ?
	`, id).Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &deadline, &g.Progress,
		&g.Experience, &g.AvailableTime, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get goal: %w", err)
	}
	g.Deadline = parseTime(deadline)
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	return &g, nil
}

// UpdateGoalProgress stores a recomputed completion percentage.
func (t *Tx) UpdateGoalProgress(ctx context.Context, id string, progress int) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE goals SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, formatTime(t.now), id)
	if err != nil {
		return fmt.Errorf("update goal progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMilestone inserts a checkpoint under a goal.
func (t *Tx) CreateMilestone(ctx context.Context, m *types.Milestone) error {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.SuccessCriteria == nil {
		m.SuccessCriteria = []string{}
	}
	criteria, err := json.Marshal(m.SuccessCriteria)
	if err != nil {
		return fmt.Errorf("marshal success criteria: %w", err)
	}
	m.CreatedAt = t.now

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO milestones (id, goal_id, title, expected_date, success_criteria, completed, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, m.ID, m.GoalID, m.Title, formatTime(m.ExpectedDate), string(criteria), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert milestone: %w", err)
	}
	return nil
}

// ListMilestones returns a goal's milestones by expected date.
func (t *Tx) ListMilestones(ctx context.Context, goalID string) ([]types.Milestone, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, goal_id, title, expected_date, success_criteria, completed, completed_at, created_at
		FROM milestones WHERE goal_id = ?
		ORDER BY expected_date, id
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var out []types.Milestone
	for rows.Next() {
		var m types.Milestone
		var expected, criteria, createdAt string
		var completedAt sql.NullString
		var completed int
		if err := rows.Scan(&m.ID, &m.GoalID, &m.Title, &expected, &criteria,
			&completed, &completedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		if err := json.Unmarshal([]byte(criteria), &m.SuccessCriteria); err != nil {
			t.logger.Error("skipping corrupt milestone row",
				"component", "store",
				"milestone_id", m.ID,
				"error", err,
			)
			continue
		}
		m.ExpectedDate = parseTime(expected)
		m.Completed = completed != 0
		m.CompletedAt = scanNullTime(completedAt)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CompleteMilestone marks a milestone reached. Completion is independent of
// the goal's tasks.
func (t *Tx) CompleteMilestone(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE milestones SET completed = 1, completed_at = ? WHERE id = ? AND completed = 0`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("complete milestone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM milestones WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check milestone: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	return nil
}
