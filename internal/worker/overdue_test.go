package worker

import (
	"context"
	"testing"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/reminder"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/types"
)

type overdueFixture struct {
	store  *store.SQLiteStore
	sender *mockSender
	reg    *fakeRegistrar
	sweep  *OverdueSweep
	now    time.Time
}

func newOverdueFixture(t *testing.T) *overdueFixture {
	t.Helper()
	f := &overdueFixture{store: newWorkerStore(t), sender: &mockSender{}, reg: newFakeRegistrar(), now: baseNow}
	logger := discardLogger()
	d := reminder.NewDispatcher(f.store, assistant.NewComposer(nil, logger), f.sender, nil, reminder.Options{
		Horizon:     24 * time.Hour,
		RepeatFloor: 4 * time.Hour,
	}, logger)
	d.SetClock(func() time.Time { return f.now })
	runner := NewReminderRunner(f.reg, d, logger)
	f.sweep = NewOverdueSweep(f.store, runner, 4*time.Hour, logger)
	f.sweep.now = func() time.Time { return f.now }
	return f
}

func TestOverdueSweep_AtMostOncePerFloor(t *testing.T) {
	f := newOverdueFixture(t)
	a := seedTask(t, f.store, 1, "File taxes", f.now.Add(-3*time.Hour))
	b := seedTask(t, f.store, 1, "Renew passport", f.now.Add(-30*time.Hour))
	seedTask(t, f.store, 1, "Future", f.now.Add(30*time.Hour))

	ctx := context.Background()
	if err := f.sweep.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := len(f.sender.Sent()); n != 2 {
		t.Fatalf("first sweep sent %d messages, want 2", n)
	}

	f.now = f.now.Add(time.Hour)
	if err := f.sweep.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := len(f.sender.Sent()); n != 2 {
		t.Errorf("second sweep within 4h sent %d more messages", n-2)
	}

	f.now = f.now.Add(4 * time.Hour)
	if err := f.sweep.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := len(f.sender.Sent()); n != 4 {
		t.Errorf("sweep after floor: total %d messages, want 4", n)
	}

	for _, id := range []string{a.ID, b.ID} {
		got := loadTask(t, f.store, id)
		if got.ReminderCount != 2 || got.LastReminderKind != types.ReminderOverdue {
			t.Errorf("task %s = count %d kind %q", id, got.ReminderCount, got.LastReminderKind)
		}
	}
	if f.reg.Len() != 0 {
		t.Errorf("overdue reminders registered %d triggers, want 0", f.reg.Len())
	}
}

func TestOverdueSweep_SeverityInText(t *testing.T) {
	f := newOverdueFixture(t)
	seedTask(t, f.store, 1, "Renew passport", f.now.Add(-50*time.Hour))

	if err := f.sweep.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	sent := f.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if want := "overdue by 2 days"; !contains(sent[0].Text, want) {
		t.Errorf("text %q missing %q", sent[0].Text, want)
	}
}

func TestOverdueSweep_SkipsClosedTasks(t *testing.T) {
	f := newOverdueFixture(t)
	task := seedTask(t, f.store, 1, "Pay rent", f.now.Add(-2*time.Hour))
	mustDo(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		return tx.CompleteTask(ctx, task.ID, f.now)
	})

	if err := f.sweep.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.sender.Sent()); n != 0 {
		t.Errorf("sent %d messages for a completed task", n)
	}
}

func TestOverdueSweep_RefiresStaleMotivational(t *testing.T) {
	f := newOverdueFixture(t)
	task := seedTask(t, f.store, 1, "Learn Go", f.now.Add(10*time.Hour))
	mustDo(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.RecordReminder(ctx, task.ID, types.ReminderMotivational, f.now.Add(-5*time.Hour)); err != nil {
			return err
		}
		return tx.UpsertEffectiveness(ctx, &types.ReminderEffectiveness{
			UserID:                1,
			CompletionRate:        0.9,
			AverageCompletionTime: 30 * time.Hour,
			OptimalInterval:       time.Hour,
			SampleSize:            10,
		})
	})

	if err := f.sweep.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.sender.Sent()); n != 1 {
		t.Fatalf("sent %d messages, want 1", n)
	}
	got := loadTask(t, f.store, task.ID)
	if got.ReminderCount != 2 || got.LastReminderKind != types.ReminderMotivational {
		t.Errorf("task = count %d kind %q", got.ReminderCount, got.LastReminderKind)
	}

	if err := f.sweep.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.sender.Sent()); n != 1 {
		t.Errorf("second sweep sent again: %d messages", n)
	}
}
