package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/nudge/internal/types"
)

// CreateFinancialRecord appends a ledger entry. A second entry for the same
// payment cycle (regular_payment_id, record_date) fails with ErrConflict.
func (t *Tx) CreateFinancialRecord(ctx context.Context, r *types.FinancialRecord) error {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.Currency == "" {
		r.Currency = types.DefaultCurrency
	}
	if r.Type == "" {
		r.Type = types.RecordExpense
	}
	r.CreatedAt = t.now

	var paymentID any
	if r.RegularPaymentID != "" {
		paymentID = r.RegularPaymentID
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO financial_records (
			id, user_id, amount, currency, category, description, type,
			record_date, regular_payment_id, is_planned, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.Amount, r.Currency, r.Category, r.Description, string(r.Type),
		formatDate(r.Date), paymentID, boolInt(r.IsPlanned), formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert financial record: %w", err)
	}
	return nil
}

// ListFinancialRecords returns a user's ledger entries dated in [from, to].
func (t *Tx) ListFinancialRecords(ctx context.Context, userID int64, from, to time.Time) ([]types.FinancialRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, user_id, amount, currency, category, description, type,
		       record_date, regular_payment_id, is_planned, created_at
		FROM financial_records
		WHERE user_id = ? AND record_date >= ? AND record_date <= ?
		ORDER BY record_date, id
	`, userID, formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("list financial records: %w", err)
	}
	defer rows.Close()

	var out []types.FinancialRecord
	for rows.Next() {
		var r types.FinancialRecord
		var recType, recordDate, createdAt string
		var paymentID sql.NullString
		var planned int
		if err := rows.Scan(&r.ID, &r.UserID, &r.Amount, &r.Currency, &r.Category, &r.Description,
			&recType, &recordDate, &paymentID, &planned, &createdAt); err != nil {
			return nil, fmt.Errorf("scan financial record: %w", err)
		}
		r.Type = types.RecordType(recType)
		r.Date = parseDate(recordDate)
		r.RegularPaymentID = paymentID.String
		r.IsPlanned = planned != 0
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

const paymentColumns = `
	id, user_id, amount, currency, category, description, frequency,
	next_payment_date, active, start_date, end_date, failure_count,
	notice_days, notice_sent_for, created_at, updated_at`

// CreateRegularPayment inserts a recurring obligation. NextPaymentDate
// defaults to StartDate.
func (t *Tx) CreateRegularPayment(ctx context.Context, p *types.RegularPayment) error {
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	if p.Currency == "" {
		p.Currency = types.DefaultCurrency
	}
	if p.Frequency == "" {
		p.Frequency = types.FrequencyMonthly
	}
	if p.NextPaymentDate.IsZero() {
		p.NextPaymentDate = p.StartDate
	}
	p.Active = true
	p.CreatedAt = t.now
	p.UpdatedAt = t.now

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO regular_payments (
			id, user_id, amount, currency, category, description, frequency,
			next_payment_date, active, start_date, end_date, failure_count,
			notice_days, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, 0, ?, ?, ?)
	`, p.ID, p.UserID, p.Amount, p.Currency, p.Category, p.Description, string(p.Frequency),
		formatDate(p.NextPaymentDate), formatDate(p.StartDate), nullableDate(p.EndDate),
		p.NoticeDays, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert regular payment: %w", err)
	}
	return nil
}

// GetRegularPayment returns ErrNotFound for unknown ids.
func (t *Tx) GetRegularPayment(ctx context.Context, id string) (*types.RegularPayment, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM regular_payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get regular payment: %w", err)
	}
	return p, nil
}

// ListDuePayments returns active payments due on or before today.
func (t *Tx) ListDuePayments(ctx context.Context, today time.Time) ([]types.RegularPayment, error) {
	return t.queryPayments(ctx, `SELECT `+paymentColumns+` FROM regular_payments
		WHERE active = 1 AND next_payment_date <= ?
		ORDER BY next_payment_date, id`, formatDate(today))
}

// ListActivePayments returns every active payment.
func (t *Tx) ListActivePayments(ctx context.Context) ([]types.RegularPayment, error) {
	return t.queryPayments(ctx, `SELECT `+paymentColumns+` FROM regular_payments
		WHERE active = 1 ORDER BY next_payment_date, id`)
}

// ListUserPayments returns a user's payments, active first.
func (t *Tx) ListUserPayments(ctx context.Context, userID int64) ([]types.RegularPayment, error) {
	return t.queryPayments(ctx, `SELECT `+paymentColumns+` FROM regular_payments
		WHERE user_id = ? ORDER BY active DESC, next_payment_date, id`, userID)
}

// AdvancePayment moves next_payment_date from one cycle to the next. The
// update only applies while the stored date still equals from, so a cycle
// is never advanced twice. Zero matched rows returns ErrConflict.
func (t *Tx) AdvancePayment(ctx context.Context, id string, from, to time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE regular_payments
		SET next_payment_date = ?, failure_count = 0, updated_at = ?
		WHERE id = ? AND active = 1 AND next_payment_date = ?
	`, formatDate(to), formatTime(t.now), id, formatDate(from))
	if err != nil {
		return fmt.Errorf("advance payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance payment: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// DeactivatePayment stops a payment that reached its end date.
func (t *Tx) DeactivatePayment(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE regular_payments SET active = 0, updated_at = ? WHERE id = ?`,
		formatTime(t.now), id)
	if err != nil {
		return fmt.Errorf("deactivate payment: %w", err)
	}
	return nil
}

// IncrementPaymentFailure bumps the failure counter after a failed cycle.
func (t *Tx) IncrementPaymentFailure(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE regular_payments SET failure_count = failure_count + 1, updated_at = ? WHERE id = ?`,
		formatTime(t.now), id)
	if err != nil {
		return fmt.Errorf("increment payment failure: %w", err)
	}
	return nil
}

// MarkPaymentNotice records that the lead-time notice for the cycle due on
// forDate went out. Returns false when it was already recorded.
func (t *Tx) MarkPaymentNotice(ctx context.Context, id string, forDate time.Time) (bool, error) {
	d := formatDate(forDate)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE regular_payments SET notice_sent_for = ?, updated_at = ?
		WHERE id = ? AND (notice_sent_for IS NULL OR notice_sent_for <> ?)
	`, d, formatTime(t.now), id, d)
	if err != nil {
		return false, fmt.Errorf("mark payment notice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark payment notice: %w", err)
	}
	return n > 0, nil
}

func (t *Tx) queryPayments(ctx context.Context, query string, args ...any) ([]types.RegularPayment, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query regular payments: %w", err)
	}
	defer rows.Close()

	var out []types.RegularPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan regular payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayment(scanner interface{ Scan(...any) error }) (*types.RegularPayment, error) {
	var p types.RegularPayment
	var frequency, next, start, createdAt, updatedAt string
	var end, noticeFor sql.NullString
	var active int
	err := scanner.Scan(&p.ID, &p.UserID, &p.Amount, &p.Currency, &p.Category, &p.Description,
		&frequency, &next, &active, &start, &end, &p.FailureCount,
		&p.NoticeDays, &noticeFor, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Frequency = types.Frequency(frequency)
	p.NextPaymentDate = parseDate(next)
	p.Active = active != 0
	p.StartDate = parseDate(start)
	p.EndDate = scanNullDate(end)
	p.NoticeSentFor = scanNullDate(noticeFor)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
