package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/nudge/internal/types"
)

const userColumns = `user_id, chat_id, tone, last_financial_analysis_at, created_at, updated_at`

// EnsureUser creates the user on first contact and refreshes the chat id
// on every later one.
func (t *Tx) EnsureUser(ctx context.Context, userID, chatID int64) (*types.User, error) {
	now := formatTime(t.now)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (user_id, chat_id, tone, created_at, updated_at)
		VALUES (?, ?, 'neutral', ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET chat_id = excluded.chat_id, updated_at = excluded.updated_at
	`, userID, chatID, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return t.GetUser(ctx, userID)
}

// GetUser returns ErrNotFound for unknown users.
func (t *Tx) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListUsers returns every known user ordered by id.
func (t *Tx) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collectUsers(rows)
}

// ListUsersDueForAnalysis returns users never analysed or last analysed at
// or before cutoff.
func (t *Tx) ListUsersDueForAnalysis(ctx context.Context, cutoff time.Time) ([]types.User, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE last_financial_analysis_at IS NULL OR last_financial_analysis_at <= ?
		ORDER BY user_id
	`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list users due for analysis: %w", err)
	}
	return collectUsers(rows)
}

// StampFinancialAnalysis records a delivered weekly analysis. The update is
// conditional on the stamp still being older than cutoff, so two overlapping
// sweeps stamp once. Returns false when another run already stamped.
func (t *Tx) StampFinancialAnalysis(ctx context.Context, userID int64, at, cutoff time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE users SET last_financial_analysis_at = ?, updated_at = ?
		WHERE user_id = ? AND (last_financial_analysis_at IS NULL OR last_financial_analysis_at <= ?)
	`, formatTime(at), formatTime(t.now), userID, formatTime(cutoff))
	if err != nil {
		return false, fmt.Errorf("stamp financial analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stamp financial analysis: %w", err)
	}
	return n > 0, nil
}

// SetUserTone changes the message tone for a user.
func (t *Tx) SetUserTone(ctx context.Context, userID int64, tone string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE users SET tone = ?, updated_at = ? WHERE user_id = ?`,
		tone, formatTime(t.now), userID)
	if err != nil {
		return fmt.Errorf("set tone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(scanner interface{ Scan(...any) error }) (*types.User, error) {
	var u types.User
	var analysedAt sql.NullString
	var createdAt, updatedAt string
	if err := scanner.Scan(&u.ID, &u.ChatID, &u.Tone, &analysedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.LastFinancialAnalysisAt = scanNullTime(analysedAt)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func collectUsers(rows *sql.Rows) ([]types.User, error) {
	defer rows.Close()
	var users []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
