package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/nudge/internal/types"
	"github.com/hyperengineering/nudge/internal/validation"
)

// IntentType classifies a parsed chat message.
type IntentType string

const (
	IntentTask          IntentType = "task"
	IntentFinance       IntentType = "finance"
	IntentGoal          IntentType = "goal"
	IntentClarification IntentType = "clarification"
	IntentUnknown       IntentType = "unknown"
)

// DefaultDueOffset is applied when a task arrives without a usable due date.
const DefaultDueOffset = 24 * time.Hour

// Intent is a validated, typed parse result. Exactly one of Task, Finance
// and Goal is set for the matching Type.
type Intent struct {
	Type       IntentType
	Task       *TaskIntent
	Finance    *FinanceIntent
	Goal       *GoalIntent
	Message    string
	TaskNumber int
}

// TaskIntent describes a new task.
type TaskIntent struct {
	Title       string
	Description string
	DueDate     time.Time
	Priority    types.Priority
	Category    string
}

// FinanceIntent describes a ledger entry, or a recurring payment when
// Recurring is set.
type FinanceIntent struct {
	Amount          float64
	Currency        string
	Category        string
	Description     string
	Type            types.RecordType
	Date            time.Time
	Recurring       bool
	Frequency       types.Frequency
	NextPaymentDate time.Time
	EndDate         *time.Time
	NoticeDays      int
}

// GoalIntent describes a new goal. A nil Deadline is derived later.
type GoalIntent struct {
	Title         string
	Description   string
	Deadline      *time.Time
	Experience    string
	AvailableTime string
}

type rawIntent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type rawTask struct {
	Title       string `json:"title" validate:"required,max=500,notnull"`
	Description string `json:"description" validate:"max=4000,notnull"`
	DueDate     string `json:"due_date"`
	Priority    string `json:"priority"`
	Category    string `json:"category" validate:"max=100,notnull"`
}

type rawFinance struct {
	Amount          float64 `json:"amount" validate:"gt=0"`
	Currency        string  `json:"currency" validate:"max=10"`
	Category        string  `json:"category" validate:"max=100,notnull"`
	Description     string  `json:"description" validate:"max=1000,notnull"`
	Type            string  `json:"type"`
	Date            string  `json:"date"`
	Frequency       string  `json:"frequency"`
	NextPaymentDate string  `json:"next_payment_date"`
	EndDate         string  `json:"end_date"`
	NoticeDays      int     `json:"notice_days" validate:"gte=0,lte=60"`
}

type rawGoal struct {
	Title         string `json:"title" validate:"required,max=500,notnull"`
	Description   string `json:"description" validate:"max=4000,notnull"`
	Deadline      string `json:"deadline"`
	Experience    string `json:"experience"`
	AvailableTime string `json:"available_time"`
}

type rawClarification struct {
	Message    string `json:"message"`
	TaskNumber int    `json:"task_number"`
}

// IntentParser turns free text into an Intent.
type IntentParser struct {
	llm    Completer
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewIntentParser creates a parser that resolves dates in loc.
func NewIntentParser(llm Completer, loc *time.Location, logger *slog.Logger) *IntentParser {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentParser{llm: llm, loc: loc, now: time.Now, logger: logger}
}

const intentPrompt = `Analyze the text below and extract a task, a financial entry or a goal.
Return JSON only, shaped as {"type": ..., "data": {...}} where type is one of
"task", "finance", "goal", "clarification".

task data: {"title", "description", "due_date": "YYYY-MM-DDTHH:MM:SS", "priority": "high|medium|low", "category"}
finance data: {"amount": number, "currency": "USD|EUR|RUB|...", "category", "description",
  "type": "income|expense|savings|regular_payment", "date": "YYYY-MM-DD",
  "frequency": "monthly|quarterly|annually" (regular_payment only),
  "next_payment_date": "YYYY-MM-DD" (regular_payment only), "end_date": "YYYY-MM-DD" (optional)}
goal data: {"title", "description", "deadline": "YYYY-MM-DD" (omit if not stated),
  "experience": "beginner|basic|intermediate|advanced", "available_time": "1-2|3-5|6-10|10+"}
clarification data: {"message": question to ask the user, "task_number": number if the user refers to a listed task}

Current time: %s
Resolve relative times ("in 2 hours", "next Friday") from the current time.

Text: %q`

// Parse asks the service to classify text and validates the result.
// Service failures and undecodable replies return an error; the caller
// answers with an unknown-intent reply.
func (p *IntentParser) Parse(ctx context.Context, text string) (*Intent, error) {
	now := p.now().In(p.loc)
	reply, err := p.llm.Complete(ctx, Prompt{
		System:    "You are a helpful assistant that parses text and extracts structured information.",
		User:      fmt.Sprintf(intentPrompt, now.Format("2006-01-02T15:04:05 Monday"), text),
		MaxTokens: 500,
	})
	if err != nil {
		return nil, err
	}
	return p.decode(reply, now)
}

func (p *IntentParser) decode(reply string, now time.Time) (*Intent, error) {
	var raw rawIntent
	if err := json.Unmarshal([]byte(stripFences(reply)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	data := raw.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}

	switch IntentType(strings.ToLower(strings.TrimSpace(raw.Type))) {
	case IntentTask:
		var rt rawTask
		if err := json.Unmarshal(data, &rt); err != nil {
			return nil, fmt.Errorf("%w: task: %v", ErrMalformedResponse, err)
		}
		if errs := validation.Struct(rt); len(errs) > 0 {
			return clarify(errs), nil
		}
		return &Intent{Type: IntentTask, Task: p.taskIntent(rt, now)}, nil

	case IntentFinance:
		var rf rawFinance
		if err := json.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("%w: finance: %v", ErrMalformedResponse, err)
		}
		if errs := validation.Struct(rf); len(errs) > 0 {
			return clarify(errs), nil
		}
		return &Intent{Type: IntentFinance, Finance: p.financeIntent(rf, now)}, nil

	case IntentGoal:
		var rg rawGoal
		if err := json.Unmarshal(data, &rg); err != nil {
			return nil, fmt.Errorf("%w: goal: %v", ErrMalformedResponse, err)
		}
		if errs := validation.Struct(rg); len(errs) > 0 {
			return clarify(errs), nil
		}
		return &Intent{Type: IntentGoal, Goal: p.goalIntent(rg, now)}, nil

	case IntentClarification:
		var rc rawClarification
		if err := json.Unmarshal(data, &rc); err != nil {
			return nil, fmt.Errorf("%w: clarification: %v", ErrMalformedResponse, err)
		}
		return &Intent{Type: IntentClarification, Message: strings.TrimSpace(rc.Message), TaskNumber: rc.TaskNumber}, nil
	}

	return &Intent{Type: IntentUnknown}, nil
}

func clarify(errs []validation.ValidationError) *Intent {
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	return &Intent{
		Type:    IntentClarification,
		Message: "Could you give me more detail about the " + strings.Join(fields, ", ") + "?",
	}
}

func (p *IntentParser) taskIntent(rt rawTask, now time.Time) *TaskIntent {
	due, ok := p.parseDate(rt.DueDate, endOfDay)
	if !ok || due.Before(now.Add(-time.Minute)) {
		if rt.DueDate != "" {
			p.logger.Warn("unusable due date, using default",
				"component", "assistant",
				"due_date", rt.DueDate,
			)
		}
		due = now.Add(DefaultDueOffset)
	}

	category := strings.TrimSpace(rt.Category)
	if category == "" {
		category = types.DefaultCategory
	}

	return &TaskIntent{
		Title:       strings.TrimSpace(rt.Title),
		Description: strings.TrimSpace(rt.Description),
		DueDate:     due,
		Priority:    types.ParsePriority(rt.Priority),
		Category:    strings.ToLower(category),
	}
}

func (p *IntentParser) financeIntent(rf rawFinance, now time.Time) *FinanceIntent {
	today := truncateDay(now)

	currency := strings.ToUpper(strings.TrimSpace(rf.Currency))
	if currency == "" {
		currency = types.DefaultCurrency
	}
	category := strings.TrimSpace(rf.Category)
	if category == "" {
		category = "other"
	}

	fi := &FinanceIntent{
		Amount:      rf.Amount,
		Currency:    currency,
		Category:    strings.ToLower(category),
		Description: strings.TrimSpace(rf.Description),
		Type:        types.ParseRecordType(rf.Type),
		Date:        today,
		NoticeDays:  rf.NoticeDays,
	}
	if d, ok := p.parseDate(rf.Date, startOfDay); ok {
		fi.Date = d
	}

	if strings.EqualFold(strings.TrimSpace(rf.Type), "regular_payment") || rf.Frequency != "" {
		fi.Recurring = true
		fi.Type = types.RecordExpense
		fi.Frequency = types.ParseFrequency(rf.Frequency)
		fi.NextPaymentDate = today
		if d, ok := p.parseDate(rf.NextPaymentDate, startOfDay); ok {
			fi.NextPaymentDate = d
		}
		if d, ok := p.parseDate(rf.EndDate, startOfDay); ok && !d.Before(fi.NextPaymentDate) {
			fi.EndDate = &d
		}
	}
	return fi
}

func (p *IntentParser) goalIntent(rg rawGoal, now time.Time) *GoalIntent {
	gi := &GoalIntent{
		Title:         strings.TrimSpace(rg.Title),
		Description:   strings.TrimSpace(rg.Description),
		Experience:    strings.TrimSpace(rg.Experience),
		AvailableTime: strings.TrimSpace(rg.AvailableTime),
	}
	if d, ok := p.parseDate(rg.Deadline, endOfDay); ok && d.After(now) {
		gi.Deadline = &d
	}
	return gi
}

type dateOnlyMode int

const (
	startOfDay dateOnlyMode = iota
	endOfDay
)

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"01/02/2006",
	"2006/01/02",
}

// parseDate accepts the layouts the service is known to emit. Date-only
// values resolve to the start or the last minute of that day.
func (p *IntentParser) parseDate(s string, mode dateOnlyMode) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			if mode == endOfDay {
				t = t.Add(23*time.Hour + 59*time.Minute)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
