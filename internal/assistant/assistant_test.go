package assistant

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hyperengineering/nudge/internal/goals"
	"github.com/hyperengineering/nudge/internal/types"
)

// fakeCompleter returns canned replies and records prompts.
type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []Prompt
}

func (f *fakeCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return f.reply, f.err
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// mockChatService implements ChatService.
type mockChatService struct {
	resp *openai.ChatCompletion
	err  error
}

func (m *mockChatService) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return m.resp, m.err
}

func TestClient_Complete(t *testing.T) {
	c := &Client{
		chat: &mockChatService{resp: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "  hello  "}},
			},
		}},
		model: "gpt-4o-mini",
	}
	got, err := c.Complete(context.Background(), Prompt{System: "s", User: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("Complete() = %q, want trimmed reply", got)
	}
}

func TestClient_CompleteErrors(t *testing.T) {
	boom := errors.New("rate limited")
	c := &Client{chat: &mockChatService{err: boom}}
	if _, err := c.Complete(context.Background(), Prompt{}); !errors.Is(err, boom) {
		t.Errorf("Complete() error = %v, want wrapped service error", err)
	}

	c = &Client{chat: &mockChatService{resp: &openai.ChatCompletion{}}}
	if _, err := c.Complete(context.Background(), Prompt{}); err == nil {
		t.Error("Complete() with no choices should fail")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct{ in, want string }{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"Here you go:\n```\n{\"a\":1}\n```\nthanks", "{\"a\":1}"},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatic(t *testing.T) {
	msg := Message{
		Kind:   KindReminderRegular,
		Tone:   "sarcastic",
		Params: map[string]string{"task_title": "Taxes", "due_date": "Mon 10:00"},
	}
	got := Static(msg)
	if !strings.Contains(got, "Taxes") || !strings.Contains(got, "🙄") {
		t.Errorf("Static() = %q, want sarcastic template with title", got)
	}

	// Tone without an override for this kind falls back to neutral.
	msg.Kind = KindReminderOverdue
	msg.Params["overdue_time"] = "3 hours"
	if got := Static(msg); !strings.Contains(got, "overdue by 3 hours") {
		t.Errorf("Static() = %q, want neutral overdue template", got)
	}

	// Unknown tone uses neutral.
	if got := Static(Message{Kind: KindToneUpdated, Tone: "pirate"}); got != "Tone set to neutral." {
		t.Errorf("Static() = %q", got)
	}

	// Unknown kind returns the message param.
	if got := Static(Message{Kind: "mystery", Params: map[string]string{"message": "raw"}}); got != "raw" {
		t.Errorf("Static() = %q, want raw", got)
	}
}

func TestTemplates_EveryToneHasNeutralKinds(t *testing.T) {
	for tone, set := range templates {
		for kind := range set {
			if _, ok := templates[ToneNeutral][kind]; !ok {
				t.Errorf("tone %s overrides %s which has no neutral template", tone, kind)
			}
		}
	}
	for _, tone := range Tones() {
		if _, ok := templates[tone]; !ok {
			t.Errorf("tone %s has no templates", tone)
		}
	}
}

func TestParseTone(t *testing.T) {
	if tone, ok := ParseTone(" Loving_Mom "); !ok || tone != ToneLovingMom {
		t.Errorf("ParseTone() = %v, %v", tone, ok)
	}
	if _, ok := ParseTone("pirate"); ok {
		t.Error("ParseTone(pirate) should fail")
	}
}

func TestComposer_FallsBackOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	llm := &fakeCompleter{err: errors.New("timeout")}
	c := NewComposer(NewRenderer(llm), logger)

	msg := Message{Kind: KindReminderUrgent, Params: map[string]string{"task_title": "Call", "due_date": "10:00"}}
	got := c.Compose(context.Background(), msg)
	if got != Static(msg) {
		t.Errorf("Compose() = %q, want static fallback", got)
	}
	if !strings.Contains(buf.String(), "using static template") {
		t.Errorf("fallback not logged: %s", buf.String())
	}
}

func TestComposer_EmptyReplyFallsBack(t *testing.T) {
	c := NewComposer(NewRenderer(&fakeCompleter{reply: "   "}), nil)
	msg := Message{Kind: KindDailySummary, Params: map[string]string{"summary": "nothing"}}
	if got := c.Compose(context.Background(), msg); got != Static(msg) {
		t.Errorf("Compose() = %q, want static fallback", got)
	}
}

func TestComposer_StaticKindsSkipService(t *testing.T) {
	llm := &fakeCompleter{reply: "generated"}
	c := NewComposer(NewRenderer(llm), nil)

	c.Compose(context.Background(), Message{Kind: KindTaskAdded, Params: map[string]string{"details": "x"}})
	if llm.calls() != 0 {
		t.Errorf("service called %d times for a static kind", llm.calls())
	}

	got := c.Compose(context.Background(), Message{Kind: KindReminderRegular, Tone: "strict"})
	if got != "generated" {
		t.Errorf("Compose() = %q, want generated text", got)
	}
	if !strings.Contains(llm.prompts[0].System, "strict") {
		t.Errorf("system prompt missing tone: %q", llm.prompts[0].System)
	}
}

func TestComposer_NilRenderer(t *testing.T) {
	var c *Composer
	msg := Message{Kind: KindError, Params: map[string]string{"message": Apology}}
	if got := c.Compose(context.Background(), msg); got != Apology {
		t.Errorf("Compose() = %q", got)
	}
}

var parseNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestParser(reply string, err error) *IntentParser {
	p := NewIntentParser(&fakeCompleter{reply: reply, err: err}, time.UTC, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	p.now = func() time.Time { return parseNow }
	return p
}

func TestParse_Task(t *testing.T) {
	p := newTestParser("```json\n{\"type\":\"task\",\"data\":{\"title\":\" Pay rent \",\"due_date\":\"2024-03-11T18:00:00\",\"priority\":\"HIGH\"}}\n```", nil)
	in, err := p.Parse(context.Background(), "pay rent tomorrow at 6pm")
	if err != nil {
		t.Fatal(err)
	}
	if in.Type != IntentTask || in.Task == nil {
		t.Fatalf("intent = %+v", in)
	}
	if in.Task.Title != "Pay rent" {
		t.Errorf("Title = %q", in.Task.Title)
	}
	if want := time.Date(2024, 3, 11, 18, 0, 0, 0, time.UTC); !in.Task.DueDate.Equal(want) {
		t.Errorf("DueDate = %v, want %v", in.Task.DueDate, want)
	}
	if in.Task.Priority != types.PriorityHigh {
		t.Errorf("Priority = %q", in.Task.Priority)
	}
	if in.Task.Category != types.DefaultCategory {
		t.Errorf("Category = %q", in.Task.Category)
	}
}

func TestParse_TaskDueDateDefaults(t *testing.T) {
	tests := []struct {
		name string
		due  string
		want time.Time
	}{
		{"missing", "", parseNow.Add(DefaultDueOffset)},
		{"garbage", "next-ish", parseNow.Add(DefaultDueOffset)},
		{"past", "2020-01-01T10:00:00", parseNow.Add(DefaultDueOffset)},
		{"date only", "12.03.2024", time.Date(2024, 3, 12, 23, 59, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestParser(`{"type":"task","data":{"title":"x","due_date":"`+tt.due+`"}}`, nil)
			in, err := p.Parse(context.Background(), "x")
			if err != nil {
				t.Fatal(err)
			}
			if !in.Task.DueDate.Equal(tt.want) {
				t.Errorf("DueDate = %v, want %v", in.Task.DueDate, tt.want)
			}
		})
	}
}

func TestParse_FinanceDefaults(t *testing.T) {
	p := newTestParser(`{"type":"finance","data":{"amount":12.5,"category":"Food"}}`, nil)
	in, err := p.Parse(context.Background(), "lunch 12.5")
	if err != nil {
		t.Fatal(err)
	}
	f := in.Finance
	if f.Currency != "USD" || f.Type != types.RecordExpense || f.Recurring {
		t.Errorf("finance = %+v, want USD expense", f)
	}
	if !f.Date.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v, want today", f.Date)
	}
}

func TestParse_RegularPayment(t *testing.T) {
	p := newTestParser(`{"type":"finance","data":{"amount":1200,"currency":"rub","type":"regular_payment","category":"insurance","next_payment_date":"2024-04-01"}}`, nil)
	in, err := p.Parse(context.Background(), "insurance 1200 rub")
	if err != nil {
		t.Fatal(err)
	}
	f := in.Finance
	if !f.Recurring || f.Frequency != types.FrequencyMonthly || f.Currency != "RUB" {
		t.Errorf("finance = %+v, want monthly recurring RUB", f)
	}
	if !f.NextPaymentDate.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("NextPaymentDate = %v", f.NextPaymentDate)
	}
}

func TestParse_InvalidFieldsAskForClarification(t *testing.T) {
	p := newTestParser(`{"type":"finance","data":{"amount":-5}}`, nil)
	in, err := p.Parse(context.Background(), "minus five")
	if err != nil {
		t.Fatal(err)
	}
	if in.Type != IntentClarification || !strings.Contains(in.Message, "amount") {
		t.Errorf("intent = %+v, want clarification about amount", in)
	}
}

func TestParse_GoalAndClarificationAndUnknown(t *testing.T) {
	p := newTestParser(`{"type":"goal","data":{"title":"Learn Go","deadline":"2024-09-01","experience":"beginner"}}`, nil)
	in, err := p.Parse(context.Background(), "learn go")
	if err != nil {
		t.Fatal(err)
	}
	if in.Type != IntentGoal || in.Goal.Deadline == nil || in.Goal.Experience != "beginner" {
		t.Errorf("intent = %+v", in.Goal)
	}

	p = newTestParser(`{"type":"clarification","data":{"message":"Which task?","task_number":2}}`, nil)
	in, _ = p.Parse(context.Background(), "the second one")
	if in.Type != IntentClarification || in.TaskNumber != 2 || in.Message != "Which task?" {
		t.Errorf("intent = %+v", in)
	}

	p = newTestParser(`{"type":"weather"}`, nil)
	in, _ = p.Parse(context.Background(), "rain?")
	if in.Type != IntentUnknown {
		t.Errorf("Type = %q, want unknown", in.Type)
	}
}

func TestParse_Errors(t *testing.T) {
	p := newTestParser("not json at all", nil)
	if _, err := p.Parse(context.Background(), "x"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Parse() error = %v, want ErrMalformedResponse", err)
	}

	boom := errors.New("down")
	p = newTestParser("", boom)
	if _, err := p.Parse(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("Parse() error = %v, want service error", err)
	}
}

func TestAnalyst(t *testing.T) {
	llm := &fakeCompleter{reply: "You spent less than you earned."}
	a := NewAnalyst(llm)
	got, err := a.Analyze(context.Background(),
		[]types.FinancialRecord{{Amount: 10, Currency: "USD", Category: "food", Date: parseNow}},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	if got != llm.reply {
		t.Errorf("Analyze() = %q", got)
	}
	if !strings.Contains(llm.prompts[0].User, `"category": "food"`) {
		t.Errorf("prompt missing ledger lines: %s", llm.prompts[0].User)
	}

	a = NewAnalyst(&fakeCompleter{})
	if _, err := a.Analyze(context.Background(), nil, nil); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("empty analysis error = %v", err)
	}
}

func TestPlanner(t *testing.T) {
	reply := `{"tasks":[
		{"id":"t1","title":"Basics","duration":5},
		{"title":"Project","duration":0,"dependencies":["Basics"]}
	]}`
	steps, err := NewPlanner(&fakeCompleter{reply: reply}).Plan(context.Background(), PlanRequest{Title: "Learn Go", Deadline: parseNow})
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 {
		t.Fatalf("len = %d", len(steps))
	}
	if steps[1].Key != "t2" || steps[1].DurationDays != defaultStepDays {
		t.Errorf("step 2 = %+v, want generated key and default duration", steps[1])
	}
	if len(steps[1].Dependencies) != 1 || steps[1].Dependencies[0] != "t1" {
		t.Errorf("dependencies = %v, want title resolved to t1", steps[1].Dependencies)
	}
}

func TestPlanner_RejectsInvalidPlans(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"empty", `{"tasks":[]}`, goals.ErrEmptyPlan},
		{"cycle", `{"tasks":[{"id":"a","title":"A","dependencies":["b"]},{"id":"b","title":"B","dependencies":["a"]}]}`, goals.ErrCycle},
		{"garbage", `tasks: none`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlanner(&fakeCompleter{reply: tt.reply}).Plan(context.Background(), PlanRequest{Title: "x"})
			if !errors.Is(err, ErrMalformedResponse) || !errors.Is(err, tt.want) {
				t.Errorf("Plan() error = %v, want %v", err, tt.want)
			}
		})
	}
}
