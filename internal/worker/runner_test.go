package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/nudge/internal/reminder"
	"github.com/hyperengineering/nudge/internal/schedule"
	"github.com/hyperengineering/nudge/internal/types"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []reminder.Request
	result reminder.Result
	err    error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, req reminder.Request) (reminder.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req)
	return d.result, d.err
}

func (d *fakeDispatcher) Calls() []reminder.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]reminder.Request(nil), d.calls...)
}

func TestReminderRunner_ScheduleRegistersJob(t *testing.T) {
	reg := newFakeRegistrar()
	d := &fakeDispatcher{result: reminder.Result{Outcome: reminder.OutcomeSent}}
	r := NewReminderRunner(reg, d, discardLogger())

	trig := schedule.Trigger{At: baseNow.Add(time.Hour), UserID: 1, TaskID: "t1", Kind: types.ReminderRegular}
	if !r.Schedule(trig) {
		t.Fatal("Schedule() = false")
	}
	at, ok := reg.When(trig.Name())
	if !ok || !at.Equal(trig.At) {
		t.Fatalf("registered at %v (%v), want %v", at, ok, trig.At)
	}

	if err := reg.Job(trig.Name())(context.Background()); err != nil {
		t.Fatalf("job error = %v", err)
	}
	calls := d.Calls()
	if len(calls) != 1 || calls[0].TaskID != "t1" || calls[0].UserID != 1 {
		t.Errorf("dispatch calls = %+v", calls)
	}
}

func TestReminderRunner_FireReschedulesNext(t *testing.T) {
	reg := newFakeRegistrar()
	next := &schedule.Trigger{At: baseNow.Add(30 * time.Minute), UserID: 1, TaskID: "t1", Kind: types.ReminderRegular}
	d := &fakeDispatcher{result: reminder.Result{Outcome: reminder.OutcomeFailed, Next: next}, err: errors.New("send failed")}
	r := NewReminderRunner(reg, d, discardLogger())

	_, err := r.Fire(context.Background(), schedule.Trigger{At: baseNow, UserID: 1, TaskID: "t1"})
	if err == nil {
		t.Error("Fire() should return the dispatch error")
	}
	if at, ok := reg.When(next.Name()); !ok || !at.Equal(next.At) {
		t.Errorf("retry trigger at %v (%v), want %v", at, ok, next.At)
	}
}

func TestReminderRunner_NoNextNoRegistration(t *testing.T) {
	reg := newFakeRegistrar()
	d := &fakeDispatcher{result: reminder.Result{Outcome: reminder.OutcomeSkipped, Reason: reminder.ReasonTerminal}}
	r := NewReminderRunner(reg, d, discardLogger())

	if _, err := r.Fire(context.Background(), schedule.Trigger{UserID: 1, TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Errorf("registered %d triggers, want 0", reg.Len())
	}
}

func TestReminderRunner_ClosedRegistrar(t *testing.T) {
	reg := newFakeRegistrar()
	reg.closed = true
	r := NewReminderRunner(reg, &fakeDispatcher{}, discardLogger())
	if r.Schedule(schedule.Trigger{TaskID: "t1", At: baseNow}) {
		t.Error("Schedule() = true on a closed registrar")
	}
}

func TestReminderRunner_Unschedule(t *testing.T) {
	reg := newFakeRegistrar()
	r := NewReminderRunner(reg, &fakeDispatcher{}, discardLogger())
	r.Schedule(schedule.Trigger{TaskID: "t1", At: baseNow})

	if !r.Unschedule("t1") {
		t.Error("Unschedule() = false for a pending trigger")
	}
	if r.Unschedule("t1") {
		t.Error("second Unschedule() = true")
	}
}
