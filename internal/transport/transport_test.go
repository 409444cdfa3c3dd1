package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// mockMessenger records sends and optionally fails.
type mockMessenger struct {
	mu    sync.Mutex
	sent  []string
	chats []int64
	err   error
}

func (m *mockMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, text)
	m.chats = append(m.chats, chatID)
	return nil
}

func TestRenderKeyboard(t *testing.T) {
	kb := (&Keyboard{}).Row(
		Button{Text: "Done", Payload: "task_complete_01A"},
		Button{Text: "Tomorrow", Payload: "task_postpone_01A_1"},
	)

	got := RenderKeyboard("Call mom", kb)
	want := "Call mom\n\nDone: /task_complete_01A\nTomorrow: /task_postpone_01A_1"
	if got != want {
		t.Errorf("RenderKeyboard() = %q, want %q", got, want)
	}

	if RenderKeyboard("plain", nil) != "plain" {
		t.Error("nil keyboard should leave text unchanged")
	}
	if RenderKeyboard("plain", &Keyboard{Rows: [][]Button{{}}}) != "plain" {
		t.Error("empty rows should leave text unchanged")
	}
}

func TestMaxSender_Send(t *testing.T) {
	m := &mockMessenger{}
	s := &MaxSender{client: m}

	if err := s.Send(context.Background(), 42, "hello", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(m.sent) != 1 || m.sent[0] != "hello" || m.chats[0] != 42 {
		t.Errorf("sent = %v to %v", m.sent, m.chats)
	}
}

func TestMaxSender_SendFailure(t *testing.T) {
	boom := errors.New("rate limited")
	s := &MaxSender{client: &mockMessenger{err: boom}}

	err := s.Send(context.Background(), 42, "hello", nil)
	if !errors.Is(err, boom) {
		t.Errorf("Send() error = %v, want wrapped platform error", err)
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := s.Send(context.Background(), 7, "hi", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"chat_id":7`) {
		t.Errorf("log output missing chat_id: %s", buf.String())
	}
}

func TestConnect_RequiresToken(t *testing.T) {
	if _, err := Connect(""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Connect(\"\") error = %v, want ErrNotConfigured", err)
	}
}

func TestPoller_RunWithoutAPI(t *testing.T) {
	p := NewPoller(nil, nil)
	err := p.Run(context.Background(), HandlerFunc(func(ctx context.Context, in Inbound) {}))
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Run() error = %v, want ErrNotConfigured", err)
	}
}

func TestConvert_IgnoresUnknown(t *testing.T) {
	if _, ok := Convert("not an update"); ok {
		t.Error("Convert() accepted an unknown update type")
	}
}
