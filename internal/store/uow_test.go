package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hyperengineering/nudge/internal/types"
)

func TestDo_CommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustDo(t, s, func(tx *Tx) error {
		_, err := tx.EnsureUser(ctx, 1, 10)
		return err
	})

	mustDo(t, s, func(tx *Tx) error {
		if _, err := tx.GetUser(ctx, 1); err != nil {
			t.Errorf("committed user missing: %v", err)
		}
		return nil
	})
}

func TestDo_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Do(ctx, func(tx *Tx) error {
		if _, err := tx.EnsureUser(ctx, 1, 10); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want boom", err)
	}

	err = s.Do(ctx, func(tx *Tx) error {
		_, err := tx.GetUser(ctx, 1)
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("rolled-back user visible: %v", err)
	}
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	calls := 0
	err := s.Do(ctx, func(tx *Tx) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("query: %w", driver.ErrBadConn)
		}
		_, err := tx.EnsureUser(ctx, 1, 10)
		return err
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want success on third attempt", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_SurfacesAfterThreeAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	calls := 0
	start := time.Now()
	err := s.Do(ctx, func(tx *Tx) error {
		calls++
		return driver.ErrBadConn
	})
	if !errors.Is(err, driver.ErrBadConn) {
		t.Fatalf("Do() error = %v, want wrapped ErrBadConn", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if elapsed := time.Since(start); elapsed < 2*time.Millisecond {
		t.Errorf("elapsed = %v, want at least two backoff pauses", elapsed)
	}
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	calls := 0
	err := s.Do(ctx, func(tx *Tx) error {
		calls++
		return ErrTerminal
	})
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("Do() error = %v, want ErrTerminal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	s, err := NewSQLiteStore(":memory:",
		WithRetryPolicy(RetryPolicy{Attempts: 3, Backoff: time.Hour}))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- s.Do(ctx, func(tx *Tx) error {
			calls++
			return driver.ErrBadConn
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Do() should fail after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 before the long backoff", calls)
	}
}

func TestDo_StampsUnitTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustDo(t, s, func(tx *Tx) error {
		if !tx.Now().Equal(testNow) {
			t.Errorf("Now() = %v, want %v", tx.Now(), testNow)
		}
		u, err := tx.EnsureUser(ctx, 1, 10)
		if err != nil {
			return err
		}
		if !u.CreatedAt.Equal(testNow) {
			t.Errorf("CreatedAt = %v, want %v", u.CreatedAt, testNow)
		}
		return nil
	})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"not found", ErrNotFound, false},
		{"plain", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	s := newTestStore(t)

	if err := RunMigrations(s.db); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("SchemaVersion() = %d, want 1", v)
	}

	// Foreign keys are enforced.
	err = s.Do(context.Background(), func(tx *Tx) error {
		return tx.CreateTask(context.Background(), &types.Task{UserID: 99, Title: "orphan", DueDate: testNow})
	})
	if err == nil {
		t.Error("task for unknown user should violate the foreign key")
	}
}
