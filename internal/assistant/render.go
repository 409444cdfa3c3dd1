package assistant

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Compile-time interface check
var _ Renderer = (*GenerativeRenderer)(nil)

// GenerativeRenderer writes messages with the text service.
type GenerativeRenderer struct {
	llm Completer
}

// NewRenderer creates a renderer backed by llm.
func NewRenderer(llm Completer) *GenerativeRenderer {
	return &GenerativeRenderer{llm: llm}
}

var instructions = map[MessageKind]string{
	KindReminderRegular: "Write a short, motivating reminder about the task. " +
		"If reminder_count is above 1, vary the wording. At most two sentences.",
	KindReminderUrgent: "The task is due very soon. Write an urgent reminder that stresses doing it now. " +
		"At most two sentences.",
	KindReminderOverdue: "The task is overdue. Write a supportive reminder that shows understanding " +
		"and offers help replanning. Mention the overdue time.",
	KindReminderMotivational: "The user tends to take a long time to act on reminders. Write an encouraging " +
		"message that makes the first step feel small.",
	KindUpcoming: "The task starts in a few minutes. Write a brief heads-up.",
	KindWorkloadWarning: "Several tasks are due close together. Suggest concrete prioritization steps " +
		"and remind the user to rest.",
	KindDailySummary: "Write a short overview of the day: name at most three priorities, briefly praise " +
		"completed work, and if the load is heavy suggest what could wait. Keep the task list intact.",
}

// Render asks the service for text in the user's tone.
func (r *GenerativeRenderer) Render(ctx context.Context, msg Message) (string, error) {
	instruction, ok := instructions[msg.Kind]
	if !ok {
		return "", fmt.Errorf("no generative prompt for %s", msg.Kind)
	}

	tone := msg.Tone
	if tone == "" {
		tone = string(ToneNeutral)
	}

	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\n")
	keys := make([]string, 0, len(msg.Params))
	for k := range msg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, msg.Params[k])
	}

	return r.llm.Complete(ctx, Prompt{
		System: "You are an empathetic assistant who helps people reach their goals. " +
			"Your tone of voice is " + tone + ". Reply with plain text only.",
		User:      b.String(),
		MaxTokens: 300,
	})
}
