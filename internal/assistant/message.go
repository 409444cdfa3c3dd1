package assistant

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/hyperengineering/nudge/internal/metrics"
)

// MessageKind names an outbound message template.
type MessageKind string

const (
	KindReminderRegular      MessageKind = "reminder_regular"
	KindReminderUrgent       MessageKind = "reminder_urgent"
	KindReminderOverdue      MessageKind = "reminder_overdue"
	KindReminderMotivational MessageKind = "reminder_motivational"
	KindUpcoming             MessageKind = "upcoming_reminder"
	KindWorkloadWarning      MessageKind = "workload_warning"
	KindDailySummary         MessageKind = "daily_summary"
	KindFinancialAnalysis    MessageKind = "financial_analysis"
	KindPaymentProcessed     MessageKind = "payment_processed"
	KindPaymentNotice        MessageKind = "payment_notice"
	KindTaskAdded            MessageKind = "task_added"
	KindTaskCompleted        MessageKind = "task_completed"
	KindTaskCancelled        MessageKind = "task_cancelled"
	KindTaskPostponed        MessageKind = "task_postponed"
	KindTaskList             MessageKind = "task_list"
	KindFinanceAdded         MessageKind = "finance_added"
	KindGoalCreated          MessageKind = "goal_created"
	KindClarification        MessageKind = "clarification"
	KindError                MessageKind = "error"
	KindToneUpdated          MessageKind = "tone_updated"
	KindWelcome              MessageKind = "welcome"
)

// Generative reports whether the kind is worth a model call. The rest are
// confirmations rendered from static templates only.
func (k MessageKind) Generative() bool {
	switch k {
	case KindReminderRegular, KindReminderUrgent, KindReminderOverdue, KindReminderMotivational,
		KindUpcoming, KindWorkloadWarning, KindDailySummary:
		return true
	}
	return false
}

// Tone is the user's preferred voice.
type Tone string

const (
	ToneNeutral   Tone = "neutral"
	ToneFriendly  Tone = "friendly"
	ToneStrict    Tone = "strict"
	ToneSarcastic Tone = "sarcastic"
	ToneLovingMom Tone = "loving_mom"
	ToneBuddy     Tone = "buddy"
)

// Tones lists every supported tone.
func Tones() []Tone {
	return []Tone{ToneNeutral, ToneFriendly, ToneStrict, ToneSarcastic, ToneLovingMom, ToneBuddy}
}

// ParseTone matches s against the supported tones.
func ParseTone(s string) (Tone, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range Tones() {
		if string(t) == s {
			return t, true
		}
	}
	return ToneNeutral, false
}

// Message is a request to produce text for one user.
type Message struct {
	Kind   MessageKind
	Tone   string
	Params map[string]string
}

// Renderer produces message text with the generative service.
type Renderer interface {
	Render(ctx context.Context, msg Message) (string, error)
}

// Composer turns messages into text. Generative kinds go to the renderer
// first; any failure falls back to the static template.
type Composer struct {
	renderer Renderer
	logger   *slog.Logger
}

// NewComposer creates a Composer. A nil renderer means static text only.
func NewComposer(r Renderer, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{renderer: r, logger: logger}
}

// Compose never fails.
func (c *Composer) Compose(ctx context.Context, msg Message) string {
	if c == nil || c.renderer == nil || !msg.Kind.Generative() {
		return Static(msg)
	}

	text, err := c.renderer.Render(ctx, msg)
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}

	metrics.RenderFallbacks.WithLabelValues(string(msg.Kind)).Inc()
	if err != nil {
		c.logger.Warn("render failed, using static template",
			"component", "assistant",
			"kind", msg.Kind,
			"error", err,
		)
	} else {
		c.logger.Warn("render returned empty text, using static template",
			"component", "assistant",
			"kind", msg.Kind,
		)
	}
	return Static(msg)
}

// Static renders msg from the built-in templates. Unknown tones use the
// neutral set; unknown kinds return Params["message"].
func Static(msg Message) string {
	tmpl, ok := templates[Tone(msg.Tone)][msg.Kind]
	if !ok {
		tmpl, ok = templates[ToneNeutral][msg.Kind]
	}
	if !ok {
		return msg.Params["message"]
	}
	return fill(tmpl, msg.Params)
}

// fill replaces {key} placeholders. Missing keys are left in place.
func fill(tmpl string, params map[string]string) string {
	if len(params) == 0 {
		return tmpl
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", params[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

var templates = map[Tone]map[MessageKind]string{
	ToneNeutral: {
		KindReminderRegular:      "Reminder: \"{task_title}\" is due {due_date}. Please give it some attention.",
		KindReminderUrgent:       "Due soon: \"{task_title}\" is due {due_date}. Now is the time.",
		KindReminderOverdue:      "\"{task_title}\" is overdue by {overdue_time}. Let's find a slot for it.",
		KindReminderMotivational: "You are doing well. \"{task_title}\" is still waiting, one small step counts.",
		KindUpcoming:             "Coming up: \"{task_title}\" at {due_date}.",
		KindWorkloadWarning:      "Busy stretch ahead: {count} tasks are due around {due_date}.\n{tasks}\nConsider moving one of them.",
		KindDailySummary:         "Your day at a glance.\n{summary}",
		KindFinancialAnalysis:    "Weekly finances: income {income}, expenses {expenses}.\n{details}",
		KindPaymentProcessed:     "Recorded planned payment: {amount} {currency} for {category}. Next one on {next_date}.",
		KindPaymentNotice:        "Upcoming payment: {amount} {currency} for {category} on {date}.",
		KindTaskAdded:            "New task added:\n{details}",
		KindTaskCompleted:        "Done: \"{task_title}\".",
		KindTaskCancelled:        "Cancelled: \"{task_title}\".",
		KindTaskPostponed:        "\"{task_title}\" moved to {due_date}.",
		KindTaskList:             "Your open tasks:\n{tasks}",
		KindFinanceAdded:         "Recorded {type}: {amount} {currency} in {category}.",
		KindGoalCreated:          "Goal \"{goal_title}\" planned until {deadline}.\n{plan}",
		KindClarification:        "{message}",
		KindError:                "{message}",
		KindToneUpdated:          "Tone set to neutral.",
		KindWelcome:              "Hi! Send me a task, an expense or a goal in plain words and I will keep track of it.",
	},
	ToneFriendly: {
		KindReminderRegular: "Hey! 😊 Don't forget \"{task_title}\", due {due_date}. I believe in you!",
		KindTaskAdded:       "Great! 🎉 New task added:\n{details}",
		KindFinanceAdded:    "Nice! 👍 Recorded {type}: {amount} {currency} in {category}.",
		KindClarification:   "{message} 😊",
		KindError:           "{message} 😔",
		KindToneUpdated:     "Lovely! 🌟 Friendly mode is on.",
	},
	ToneStrict: {
		KindReminderRegular: "Task \"{task_title}\" requires completion by {due_date}.",
		KindReminderUrgent:  "Deadline imminent: \"{task_title}\" at {due_date}. Complete it now.",
		KindTaskAdded:       "Task registered:\n{details}",
		KindFinanceAdded:    "Transaction registered: {type} {amount} {currency}, category {category}.",
		KindToneUpdated:     "Communication style set to formal.",
	},
	ToneSarcastic: {
		KindReminderRegular: "Oh look, \"{task_title}\" is gathering dust. Due {due_date}, in case you care. 🙄",
		KindTaskAdded:       "What an honor, a new task for my collection:\n{details}\nMaybe this one gets done. 😏",
		KindFinanceAdded:    "Wow, {type}: {amount} {currency} in {category}. So grown-up! 💸",
		KindClarification:   "What a surprise! {message} 🙃",
		KindError:           "Oops! {message} You'll survive, right? 😏",
		KindToneUpdated:     "Finally, someone appreciates my humor. 🎭",
	},
	ToneLovingMom: {
		KindReminderRegular: "Sweetheart, remember \"{task_title}\"? It's due {due_date}. I worry about you! ❤️",
		KindTaskAdded:       "Good job! I wrote down your task:\n{details}\nAnd don't forget to eat properly! 🍲",
		KindFinanceAdded:    "Darling, I noted your {type}: {amount} {currency} ({category}). So responsible! 💖",
		KindClarification:   "Dear, {message} We'll manage together! 💖",
		KindError:           "Don't worry, honey! {message} Everything will be fine! 🤗",
		KindToneUpdated:     "Now I'll take even better care of you, dear! ❤️",
	},
	ToneBuddy: {
		KindReminderRegular: "Yo, remember \"{task_title}\"? Due {due_date}, let's get it done.",
		KindTaskAdded:       "Got it, noted:\n{details}\nLet's sort it out.",
		KindFinanceAdded:    "Money noted: {type} {amount} {currency} ({category}). All good.",
		KindClarification:   "Listen, {message} We'll figure it out.",
		KindError:           "Hey, {message} We'll push through.",
		KindToneUpdated:     "Alright, I'm your buddy now.",
	},
}

// Apology is the user-facing text for internal failures.
const Apology = "Sorry, something went wrong on my side. Please try again in a moment."
