// Package transport delivers outbound chat messages and receives inbound
// chat updates.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrNotConfigured is returned by the poller when no bot token is set.
var ErrNotConfigured = errors.New("chat transport not configured")

// Button is one inline action. Payload is echoed back as a callback.
type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// Keyboard is an optional set of inline actions attached to a message.
type Keyboard struct {
	Rows [][]Button `json:"rows"`
}

// Row appends a row of buttons and returns the keyboard.
func (k *Keyboard) Row(buttons ...Button) *Keyboard {
	k.Rows = append(k.Rows, buttons)
	return k
}

// Empty reports whether the keyboard has no buttons.
func (k *Keyboard) Empty() bool {
	if k == nil {
		return true
	}
	for _, row := range k.Rows {
		if len(row) > 0 {
			return false
		}
	}
	return true
}

// Sender delivers one message to a chat. A nil error means the platform
// accepted the message.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, kb *Keyboard) error
}

// Inbound is a message or button press received from a user.
type Inbound struct {
	UserID   int64
	ChatID   int64
	Text     string
	Callback bool
}

// Handler consumes inbound updates.
type Handler interface {
	HandleInbound(ctx context.Context, in Inbound)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in Inbound)

// HandleInbound calls f.
func (f HandlerFunc) HandleInbound(ctx context.Context, in Inbound) {
	f(ctx, in)
}

// RenderKeyboard appends the keyboard as slash commands, one per line.
// Platforms without inline buttons still let the user act by typing.
func RenderKeyboard(text string, kb *Keyboard) string {
	if kb.Empty() {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	for _, row := range kb.Rows {
		for _, btn := range row {
			b.WriteString("\n")
			b.WriteString(btn.Text)
			b.WriteString(": /")
			b.WriteString(btn.Payload)
		}
	}
	return b.String()
}

// LogSender writes messages to the log instead of a chat. It is used when
// no bot token is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message and always succeeds.
func (s *LogSender) Send(ctx context.Context, chatID int64, text string, kb *Keyboard) error {
	s.logger.Info("outbound message",
		"component", "transport",
		"chat_id", chatID,
		"text", RenderKeyboard(text, kb),
	)
	return nil
}
