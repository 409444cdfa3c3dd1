package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/nudge/internal/types"
)

// GetEffectiveness returns ErrNotFound when statistics were never computed.
func (t *Tx) GetEffectiveness(ctx context.Context, userID int64) (*types.ReminderEffectiveness, error) {
	var e types.ReminderEffectiveness
	var avgSecs, optimalSecs int64
	var createdAt, updatedAt string
	err := t.tx.QueryRowContext(ctx, `
		SELECT user_id, completion_rate, on_time_rate, average_completion_secs,
		       optimal_interval_secs, sample_size, created_at, updated_at
		FROM reminder_effectiveness WHERE user_id = ?
	`, userID).Scan(&e.UserID, &e.CompletionRate, &e.OnTimeRate, &avgSecs,
		&optimalSecs, &e.SampleSize, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get effectiveness: %w", err)
	}
	e.AverageCompletionTime = time.Duration(avgSecs) * time.Second
	e.OptimalInterval = time.Duration(optimalSecs) * time.Second
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

// UpsertEffectiveness overwrites the single statistics row for a user.
// created_at survives overwrites.
func (t *Tx) UpsertEffectiveness(ctx context.Context, e *types.ReminderEffectiveness) error {
	now := formatTime(t.now)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reminder_effectiveness (
			user_id, completion_rate, on_time_rate, average_completion_secs,
			optimal_interval_secs, sample_size, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			completion_rate = excluded.completion_rate,
			on_time_rate = excluded.on_time_rate,
			average_completion_secs = excluded.average_completion_secs,
			optimal_interval_secs = excluded.optimal_interval_secs,
			sample_size = excluded.sample_size,
			updated_at = excluded.updated_at
	`, e.UserID, e.CompletionRate, e.OnTimeRate,
		int64(e.AverageCompletionTime/time.Second), int64(e.OptimalInterval/time.Second),
		e.SampleSize, now, now)
	if err != nil {
		return fmt.Errorf("upsert effectiveness: %w", err)
	}
	return nil
}

// ListEffectiveness returns every stored statistics row.
func (t *Tx) ListEffectiveness(ctx context.Context) ([]types.ReminderEffectiveness, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT user_id, completion_rate, on_time_rate, average_completion_secs,
		       optimal_interval_secs, sample_size, created_at, updated_at
		FROM reminder_effectiveness ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list effectiveness: %w", err)
	}
	defer rows.Close()

	var out []types.ReminderEffectiveness
	for rows.Next() {
		var e types.ReminderEffectiveness
		var avgSecs, optimalSecs int64
		var createdAt, updatedAt string
		if err := rows.Scan(&e.UserID, &e.CompletionRate, &e.OnTimeRate, &avgSecs,
			&optimalSecs, &e.SampleSize, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan effectiveness: %w", err)
		}
		e.AverageCompletionTime = time.Duration(avgSecs) * time.Second
		e.OptimalInterval = time.Duration(optimalSecs) * time.Second
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
