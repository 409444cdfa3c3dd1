package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/chat"
	"github.com/hyperengineering/nudge/internal/schedule"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/tasks"
	"github.com/hyperengineering/nudge/internal/transport"
	"github.com/hyperengineering/nudge/internal/types"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type nopReminders struct{}

func (nopReminders) Schedule(schedule.Trigger) bool { return true }
func (nopReminders) Unschedule(string) bool         { return true }

type fixedCounter int

func (c fixedCounter) Pending() int { return int(c) }

type apiFixture struct {
	store  *store.SQLiteStore
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:",
		store.WithRetryPolicy(store.RetryPolicy{Attempts: 1, Backoff: time.Millisecond}),
		store.WithClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := tasks.NewService(s, nopReminders{},
		tasks.WithLogger(logger),
		tasks.WithClock(func() time.Time { return testNow }),
	)
	c := chat.NewHandler(s, svc, nil, assistant.NewComposer(nil, logger), transport.NewLogSender(logger), time.UTC, logger)
	h := NewHandler(s, fixedCounter(3), c, svc, testAPIKey, "1.2.3")
	return &apiFixture{store: s, router: NewRouter(h)}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seedTask(t *testing.T, userID int64, title string) *types.Task {
	t.Helper()
	task := &types.Task{UserID: userID, Title: title, DueDate: testNow.Add(6 * time.Hour)}
	err := f.store.Do(context.Background(), func(tx *store.Tx) error {
		ctx := context.Background()
		if _, err := tx.EnsureUser(ctx, userID, userID*10); err != nil {
			return err
		}
		return tx.CreateTask(ctx, task)
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) Problem {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	return p
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Version != "1.2.3" || resp.PendingTriggers != 3 {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_StoreDown(t *testing.T) {
	f := newAPIFixture(t)
	f.store.Close()

	w := f.do(t, http.MethodGet, "/api/v1/health", "", false)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodGet, "/api/v1/health", "", false)

	w := f.do(t, http.MethodGet, "/metrics", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "nudge_http_requests_total") {
		t.Error("metrics output missing nudge_http_requests_total")
	}
}

func TestPostMessage(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name       string
		body       string
		auth       bool
		wantStatus int
	}{
		{"no auth", `{"user_id":1,"chat_id":10,"text":"/start"}`, false, http.StatusUnauthorized},
		{"bad json", `{"user_id":`, true, http.StatusBadRequest},
		{"missing text", `{"user_id":1,"chat_id":10}`, true, http.StatusUnprocessableEntity},
		{"ok", `{"user_id":1,"chat_id":10,"text":"/start"}`, true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/messages", tt.body, tt.auth)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var reply chat.Reply
			if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !strings.HasPrefix(reply.Text, "Hi!") {
				t.Errorf("reply = %q, want welcome", reply.Text)
			}
		})
	}
}

func TestPostMessage_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/messages", `{"user_id":0,"chat_id":10,"text":"hi"}`, true)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var p ProblemWithErrors
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p.Errors) != 1 || p.Errors[0].Field != "user_id" {
		t.Errorf("errors = %+v, want one user_id error", p.Errors)
	}
}

func TestTaskEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	task := f.seedTask(t, 1, "File taxes")
	base := "/api/v1/users/1/tasks/" + task.ID

	w := f.do(t, http.MethodGet, "/api/v1/users/1/tasks", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Tasks []types.Task `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].ID != task.ID {
		t.Fatalf("tasks = %+v", list.Tasks)
	}

	if w := f.do(t, http.MethodPost, base+"/postpone", `{"days":0}`, true); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("postpone 0 status = %d, want 422", w.Code)
	}

	w = f.do(t, http.MethodPost, base+"/postpone", `{"days":2}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("postpone status = %d; body = %s", w.Code, w.Body.String())
	}
	var postponed types.Task
	json.Unmarshal(w.Body.Bytes(), &postponed)
	if !postponed.DueDate.Equal(testNow.AddDate(0, 0, 2)) {
		t.Errorf("due = %v, want now+2d", postponed.DueDate)
	}

	if w := f.do(t, http.MethodPost, "/api/v1/users/2/tasks/"+task.ID+"/complete", "", true); w.Code != http.StatusNotFound {
		t.Errorf("foreign complete status = %d, want 404", w.Code)
	}

	w = f.do(t, http.MethodPost, base+"/complete", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d; body = %s", w.Code, w.Body.String())
	}
	var done tasks.Completion
	json.Unmarshal(w.Body.Bytes(), &done)
	if done.Task == nil || done.Task.Status != types.TaskCompleted {
		t.Errorf("completion = %+v", done)
	}

	w = f.do(t, http.MethodPost, base+"/cancel", `{"reason":"late"}`, true)
	if w.Code != http.StatusConflict {
		t.Errorf("cancel after complete status = %d, want 409", w.Code)
	}
	if p := decodeProblem(t, w); p.Instance != base+"/cancel" {
		t.Errorf("instance = %q", p.Instance)
	}
}

func TestCancelTask_NoBody(t *testing.T) {
	f := newAPIFixture(t)
	task := f.seedTask(t, 1, "Gym")

	w := f.do(t, http.MethodPost, "/api/v1/users/1/tasks/"+task.ID+"/cancel", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}
	var got types.Task
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Status != types.TaskCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
}

func TestUserParam_Invalid(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/api/v1/users/abc/tasks", "/api/v1/users/-4/tasks"} {
		w := f.do(t, http.MethodGet, path, "", true)
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, w.Code)
		}
	}
}

func TestEffectiveness(t *testing.T) {
	f := newAPIFixture(t)

	if w := f.do(t, http.MethodGet, "/api/v1/users/1/effectiveness", "", true); w.Code != http.StatusNotFound {
		t.Errorf("missing stats status = %d, want 404", w.Code)
	}

	err := f.store.Do(context.Background(), func(tx *store.Tx) error {
		ctx := context.Background()
		if _, err := tx.EnsureUser(ctx, 1, 10); err != nil {
			return err
		}
		return tx.UpsertEffectiveness(ctx, &types.ReminderEffectiveness{
			UserID:          1,
			CompletionRate:  0.5,
			OnTimeRate:      1,
			OptimalInterval: 30 * time.Minute,
			SampleSize:      4,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/v1/users/1/effectiveness", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got types.ReminderEffectiveness
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CompletionRate != 0.5 || got.SampleSize != 4 {
		t.Errorf("effectiveness = %+v", got)
	}
}

func TestWriteJSON_LogsEncodeFailure(t *testing.T) {
	logs := captureLogs(t)
	rec := httptest.NewRecorder()

	writeJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	out := logs.String()
	if !strings.Contains(out, "failed to encode response") || !strings.Contains(out, `"level":"ERROR"`) {
		t.Errorf("logs = %q, want error-level encode failure", out)
	}
	if !strings.Contains(out, `"component":"api"`) {
		t.Errorf("logs = %q, want component api", out)
	}
}
