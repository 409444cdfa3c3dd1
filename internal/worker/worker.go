// Package worker holds the time-driven jobs: the reminder runner, the
// periodic sweeps, the effectiveness tracker, the recurring payment
// processor and startup reconciliation. Every job is a schedule.Job; item
// failures are logged and the batch continues.
package worker

import (
	"context"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/transport"
	"github.com/hyperengineering/nudge/internal/types"
)

// DueLayout formats due dates in user-facing messages.
const DueLayout = "Mon 02 Jan 15:04"

// Notifier renders and sends one message to a user.
type Notifier struct {
	Composer *assistant.Composer
	Sender   transport.Sender
}

// Notify composes kind in the user's tone and sends it to their chat.
// The rendered text is returned even when the send fails.
func (n Notifier) Notify(ctx context.Context, user *types.User, kind assistant.MessageKind, params map[string]string, kb *transport.Keyboard) (string, error) {
	text := n.Composer.Compose(ctx, assistant.Message{Kind: kind, Tone: user.Tone, Params: params})
	return text, n.Sender.Send(ctx, user.ChatID, text, kb)
}

// startOfDay returns local midnight of t's calendar day in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// calendarDate returns t's local calendar day as a UTC date, the form the
// store uses for payment and ledger dates.
func calendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
