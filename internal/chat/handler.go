// Package chat turns inbound chat messages and button presses into task,
// finance and goal actions and replies in the user's tone.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/metrics"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/tasks"
	"github.com/hyperengineering/nudge/internal/transport"
	"github.com/hyperengineering/nudge/internal/types"
)

// DueLayout formats due dates in replies.
const DueLayout = "Mon 02 Jan 15:04"

const (
	msgUnknown      = "I did not catch that. Tell me about a task, an expense or a goal."
	msgClarify      = "Could you tell me a bit more?"
	msgNotFound     = "That task no longer exists."
	msgClosed       = "That task is already closed."
	msgOutOfOrder   = "Finish the earlier tasks of this goal first."
	msgNoGoals      = "Goal planning is not available right now."
	msgBadNumber    = "Send /complete followed by a number from /tasks."
	msgNoTasks      = "You have no open tasks."
	cancelledByUser = "cancelled by user"
)

// IntentParser classifies free text. Implemented by *assistant.IntentParser.
type IntentParser interface {
	Parse(ctx context.Context, text string) (*assistant.Intent, error)
}

// Reply is the response to one inbound message.
type Reply struct {
	Text     string              `json:"text"`
	Keyboard *transport.Keyboard `json:"keyboard,omitempty"`
}

// Handler answers inbound messages. It implements transport.Handler.
type Handler struct {
	uow      store.UnitOfWork
	tasks    *tasks.Service
	parser   IntentParser
	composer *assistant.Composer
	sender   transport.Sender
	loc      *time.Location
	logger   *slog.Logger
}

// NewHandler creates a Handler. A nil parser answers every free-text
// message with the unknown-intent reply.
func NewHandler(uow store.UnitOfWork, svc *tasks.Service, parser IntentParser, composer *assistant.Composer, sender transport.Sender, loc *time.Location, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		uow:      uow,
		tasks:    svc,
		parser:   parser,
		composer: composer,
		sender:   sender,
		loc:      loc,
		logger:   logger,
	}
}

// HandleInbound answers in and sends the reply to the user's chat. Send
// failures are logged.
func (h *Handler) HandleInbound(ctx context.Context, in transport.Inbound) {
	reply := h.Respond(ctx, in)
	if reply.Text == "" {
		return
	}
	if err := h.sender.Send(ctx, in.ChatID, reply.Text, reply.Keyboard); err != nil {
		h.logger.Error("reply delivery failed",
			"component", "chat",
			"user_id", in.UserID,
			"chat_id", in.ChatID,
			"error", err,
		)
	}
}

// Respond computes the reply to in without sending it. It never fails;
// internal errors produce an apology in the user's tone.
func (h *Handler) Respond(ctx context.Context, in transport.Inbound) Reply {
	var user *types.User
	err := h.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		user, err = tx.EnsureUser(ctx, in.UserID, in.ChatID)
		return err
	})
	if err != nil {
		h.logger.Error("load user failed",
			"component", "chat",
			"user_id", in.UserID,
			"error", err,
		)
		return Reply{Text: assistant.Apology}
	}

	text := strings.TrimSpace(in.Text)
	if action, ok := transport.ParseAction(text); ok {
		metrics.InboundMessages.WithLabelValues("action").Inc()
		return h.runAction(ctx, user, action)
	}
	if strings.HasPrefix(text, "/") {
		metrics.InboundMessages.WithLabelValues("command").Inc()
		return h.runCommand(ctx, user, text)
	}
	if in.Callback || text == "" {
		metrics.InboundMessages.WithLabelValues("ignored").Inc()
		return Reply{}
	}
	metrics.InboundMessages.WithLabelValues("intent").Inc()
	return h.runIntent(ctx, user, text)
}

func (h *Handler) runCommand(ctx context.Context, user *types.User, text string) Reply {
	name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "start", "help":
		return h.say(ctx, user, assistant.KindWelcome, nil)
	case "tasks":
		return h.listTasks(ctx, user)
	case "complete", "done":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return h.say(ctx, user, assistant.KindClarification, map[string]string{"message": msgBadNumber})
		}
		return h.completeNumber(ctx, user, n)
	case "tone":
		return h.setTone(ctx, user, arg)
	}
	return h.say(ctx, user, assistant.KindClarification, map[string]string{"message": msgUnknown})
}

func (h *Handler) runIntent(ctx context.Context, user *types.User, text string) Reply {
	if h.parser == nil {
		return h.say(ctx, user, assistant.KindClarification, map[string]string{"message": msgUnknown})
	}
	intent, err := h.parser.Parse(ctx, text)
	if err != nil {
		h.logger.Warn("intent parse failed",
			"component", "chat",
			"user_id", user.ID,
			"error", err,
		)
		return h.say(ctx, user, assistant.KindClarification, map[string]string{"message": msgUnknown})
	}

	switch intent.Type {
	case assistant.IntentTask:
		task, err := h.tasks.CreateTask(ctx, user.ID, *intent.Task)
		if err != nil {
			return h.fail(ctx, user, "create task", err)
		}
		reply := h.say(ctx, user, assistant.KindTaskAdded, map[string]string{
			"details":    h.taskDetails(task),
			"task_title": task.Title,
		})
		reply.Keyboard = transport.TaskActions(task.ID)
		return reply

	case assistant.IntentFinance:
		rec, pay, err := h.tasks.RecordFinance(ctx, user.ID, *intent.Finance)
		if err != nil {
			return h.fail(ctx, user, "record finance", err)
		}
		if pay != nil {
			return h.say(ctx, user, assistant.KindFinanceAdded, map[string]string{
				"type":     string(pay.Frequency) + " payment",
				"amount":   formatAmount(pay.Amount),
				"currency": pay.Currency,
				"category": pay.Category,
			})
		}
		return h.say(ctx, user, assistant.KindFinanceAdded, map[string]string{
			"type":     string(rec.Type),
			"amount":   formatAmount(rec.Amount),
			"currency": rec.Currency,
			"category": rec.Category,
		})

	case assistant.IntentGoal:
		plan, err := h.tasks.CreateGoal(ctx, user.ID, *intent.Goal)
		if errors.Is(err, tasks.ErrPlannerUnavailable) {
			return h.say(ctx, user, assistant.KindError, map[string]string{"message": msgNoGoals})
		}
		if err != nil {
			return h.fail(ctx, user, "create goal", err)
		}
		return h.say(ctx, user, assistant.KindGoalCreated, map[string]string{
			"goal_title": plan.Goal.Title,
			"deadline":   plan.Goal.Deadline.In(h.loc).Format("02 Jan 2006"),
			"plan":       plan.RenderPlan(h.loc),
		})

	case assistant.IntentClarification:
		if intent.TaskNumber > 0 {
			return h.completeNumber(ctx, user, intent.TaskNumber)
		}
		msg := intent.Message
		if msg == "" {
			msg = msgClarify
		}
		return h.say(ctx, user, assistant.KindClarification, map[string]string{"message": msg})
	}
	return h.say(ctx, user, assistant.KindClarification, map[string]string{"message": msgUnknown})
}

func (h *Handler) runAction(ctx context.Context, user *types.User, a transport.Action) Reply {
	switch a.Kind {
	case transport.ActionComplete:
		return h.complete(ctx, user, a.TaskID)
	case transport.ActionCancel:
		task, err := h.tasks.Cancel(ctx, user.ID, a.TaskID, cancelledByUser)
		if err != nil {
			return h.fail(ctx, user, "cancel task", err)
		}
		return h.say(ctx, user, assistant.KindTaskCancelled, map[string]string{"task_title": task.Title})
	case transport.ActionPostpone:
		task, err := h.tasks.Postpone(ctx, user.ID, a.TaskID, a.Days)
		if err != nil {
			return h.fail(ctx, user, "postpone task", err)
		}
		return h.say(ctx, user, assistant.KindTaskPostponed, map[string]string{
			"task_title": task.Title,
			"due_date":   task.DueDate.In(h.loc).Format(DueLayout),
		})
	}
	return Reply{}
}

func (h *Handler) complete(ctx context.Context, user *types.User, taskID string) Reply {
	res, err := h.tasks.Complete(ctx, user.ID, taskID)
	if err != nil {
		return h.fail(ctx, user, "complete task", err)
	}
	reply := h.say(ctx, user, assistant.KindTaskCompleted, map[string]string{"task_title": res.Task.Title})
	if res.Goal != nil {
		reply.Text += fmt.Sprintf("\nGoal %q is %d%% done.", res.Goal.Title, res.Goal.Progress)
	}
	return reply
}

// completeNumber completes the n-th task of the /tasks listing.
func (h *Handler) completeNumber(ctx context.Context, user *types.User, n int) Reply {
	open, err := h.tasks.ListOpen(ctx, user.ID)
	if err != nil {
		return h.fail(ctx, user, "list tasks", err)
	}
	if n > len(open) {
		return h.say(ctx, user, assistant.KindClarification, map[string]string{"message": msgBadNumber})
	}
	return h.complete(ctx, user, open[n-1].ID)
}

func (h *Handler) listTasks(ctx context.Context, user *types.User) Reply {
	open, err := h.tasks.ListOpen(ctx, user.ID)
	if err != nil {
		return h.fail(ctx, user, "list tasks", err)
	}
	if len(open) == 0 {
		return h.say(ctx, user, assistant.KindClarification, map[string]string{"message": msgNoTasks})
	}
	lines := make([]string, len(open))
	for i, t := range open {
		lines[i] = fmt.Sprintf("%d. %s (due %s)", i+1, t.Title, t.DueDate.In(h.loc).Format(DueLayout))
	}
	return h.say(ctx, user, assistant.KindTaskList, map[string]string{"tasks": strings.Join(lines, "\n")})
}

func (h *Handler) setTone(ctx context.Context, user *types.User, arg string) Reply {
	tone, ok := assistant.ParseTone(arg)
	if !ok {
		names := make([]string, 0, len(assistant.Tones()))
		for _, t := range assistant.Tones() {
			names = append(names, string(t))
		}
		return h.say(ctx, user, assistant.KindClarification, map[string]string{
			"message": "Pick a tone: " + strings.Join(names, ", ") + ".",
		})
	}
	err := h.uow.Do(ctx, func(tx *store.Tx) error {
		return tx.SetUserTone(ctx, user.ID, string(tone))
	})
	if err != nil {
		return h.fail(ctx, user, "set tone", err)
	}
	user.Tone = string(tone)
	return h.say(ctx, user, assistant.KindToneUpdated, nil)
}

// fail maps action errors to a reply. Integrity errors get a specific
// message; anything else is logged and answered with an apology.
func (h *Handler) fail(ctx context.Context, user *types.User, op string, err error) Reply {
	msg := rejection(err)
	if msg == "" {
		h.logger.Error("chat action failed",
			"component", "chat",
			"action", op,
			"user_id", user.ID,
			"error", err,
		)
		msg = assistant.Apology
	} else {
		h.logger.Warn("chat action rejected",
			"component", "chat",
			"action", op,
			"user_id", user.ID,
			"error", err,
		)
	}
	return h.say(ctx, user, assistant.KindError, map[string]string{"message": msg})
}

func rejection(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return msgNotFound
	case errors.Is(err, store.ErrTerminal):
		return msgClosed
	case errors.Is(err, store.ErrOutOfOrder):
		return msgOutOfOrder
	case errors.Is(err, tasks.ErrInvalidPostpone):
		return "Postpone by 1 to 365 days."
	}
	return ""
}

func (h *Handler) say(ctx context.Context, user *types.User, kind assistant.MessageKind, params map[string]string) Reply {
	return Reply{Text: h.composer.Compose(ctx, assistant.Message{Kind: kind, Tone: user.Tone, Params: params})}
}

func (h *Handler) taskDetails(t *types.Task) string {
	var b strings.Builder
	b.WriteString(t.Title)
	if t.Description != "" {
		b.WriteString("\n")
		b.WriteString(t.Description)
	}
	fmt.Fprintf(&b, "\nDue: %s\nPriority: %s", t.DueDate.In(h.loc).Format(DueLayout), t.Priority)
	if t.CategoryName != "" {
		fmt.Fprintf(&b, "\nCategory: %s", t.CategoryName)
	}
	return b.String()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
