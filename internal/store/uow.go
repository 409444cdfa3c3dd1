package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hyperengineering/nudge/internal/metrics"
)

// Tx is a single transactional unit of work. It is only valid inside the
// function passed to Do.
type Tx struct {
	tx     *sql.Tx
	now    time.Time
	logger *slog.Logger
}

// Now is the timestamp stamped on rows written by this unit of work.
func (t *Tx) Now() time.Time {
	return t.now
}

// UnitOfWork runs a function inside a retried transaction.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(tx *Tx) error) error
}

// Compile-time interface check
var _ UnitOfWork = (*SQLiteStore)(nil)

// Do runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise. Transient failures (busy/locked database,
// dropped connection) re-run the whole unit, bounded by the retry policy;
// the last error is then surfaced. fn must only touch the database.
func (s *SQLiteStore) Do(ctx context.Context, fn func(tx *Tx) error) error {
	backoff := retry.WithMaxRetries(uint64(s.retry.Attempts-1), retry.NewConstant(s.retry.Backoff))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		metrics.StoreRetries.Inc()
		s.logger.Warn("unit of work failed, retrying",
			"component", "store",
			"attempt", attempt,
			"max_attempts", s.retry.Attempts,
			"error", err,
		)
		return retry.RetryableError(err)
	})
	if err != nil && IsTransient(err) {
		s.logger.Error("unit of work exhausted retries",
			"component", "store",
			"attempts", attempt,
			"error", err,
		)
		return fmt.Errorf("unit of work failed after %d attempts: %w", attempt, err)
	}
	return err
}

func (s *SQLiteStore) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, now: s.now().UTC(), logger: s.logger}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		// Without extended result codes only the primary code is set.
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}
