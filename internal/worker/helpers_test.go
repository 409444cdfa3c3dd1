package worker

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/schedule"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/transport"
	"github.com/hyperengineering/nudge/internal/types"
)

var baseNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkerStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:",
		store.WithRetryPolicy(store.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}),
		store.WithClock(func() time.Time { return baseNow }),
	)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDo(t *testing.T, s *store.SQLiteStore, fn func(ctx context.Context, tx *store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := s.Do(ctx, func(tx *store.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

func seedUser(t *testing.T, s *store.SQLiteStore, userID int64) {
	t.Helper()
	mustDo(t, s, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.EnsureUser(ctx, userID, userID*10)
		return err
	})
}

func seedTask(t *testing.T, s *store.SQLiteStore, userID int64, title string, due time.Time) *types.Task {
	t.Helper()
	task := &types.Task{UserID: userID, Title: title, DueDate: due}
	mustDo(t, s, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.EnsureUser(ctx, userID, userID*10); err != nil {
			return err
		}
		cat, err := tx.EnsureCategory(ctx, "")
		if err != nil {
			return err
		}
		task.CategoryID = cat.ID
		return tx.CreateTask(ctx, task)
	})
	return task
}

func loadTask(t *testing.T, s *store.SQLiteStore, id string) *types.Task {
	t.Helper()
	var task *types.Task
	mustDo(t, s, func(ctx context.Context, tx *store.Tx) error {
		var err error
		task, err = tx.GetTask(ctx, id)
		return err
	})
	return task
}

type sentMessage struct {
	ChatID int64
	Text   string
}

type mockSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockSender) Send(ctx context.Context, chatID int64, text string, kb *transport.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *mockSender) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func (m *mockSender) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func staticNotifier(sender *mockSender) Notifier {
	return Notifier{Composer: assistant.NewComposer(nil, discardLogger()), Sender: sender}
}

type fakeRegistrar struct {
	mu       sync.Mutex
	at       map[string]time.Time
	jobs     map[string]schedule.Job
	closed   bool
	canceled []string
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{at: make(map[string]time.Time), jobs: make(map[string]schedule.Job)}
}

func (r *fakeRegistrar) Once(name string, at time.Time, job schedule.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.at[name] = at
	r.jobs[name] = job
	return true
}

func (r *fakeRegistrar) Cancel(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, name)
	if _, ok := r.at[name]; !ok {
		return false
	}
	delete(r.at, name)
	delete(r.jobs, name)
	return true
}

func (r *fakeRegistrar) When(name string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.at[name]
	return at, ok
}

func (r *fakeRegistrar) Job(name string) schedule.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[name]
}

func (r *fakeRegistrar) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.at)
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
