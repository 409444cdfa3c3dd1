package types

import (
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a task.
// Open and Reminded are live; Completed and Cancelled are absorbing.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskReminded  TaskStatus = "reminded"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// ValidTaskStatuses returns all valid status values.
func ValidTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskOpen, TaskReminded, TaskCompleted, TaskCancelled}
}

// IsValid returns true if the status is a known value.
func (s TaskStatus) IsValid() bool {
	for _, valid := range ValidTaskStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further reminders may target the task.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// ReminderKind classifies a single reminder delivery.
type ReminderKind string

const (
	ReminderRegular      ReminderKind = "regular"
	ReminderUrgent       ReminderKind = "urgent"
	ReminderOverdue      ReminderKind = "overdue"
	ReminderMotivational ReminderKind = "motivational"
)

// IsValid returns true if the kind is a known value.
func (k ReminderKind) IsValid() bool {
	switch k {
	case ReminderRegular, ReminderUrgent, ReminderOverdue, ReminderMotivational:
		return true
	default:
		return false
	}
}

// SelfChaining reports whether a delivery of this kind schedules its own
// follow-up. Overdue and motivational reminders are re-triggered by the
// overdue sweep instead.
func (k ReminderKind) SelfChaining() bool {
	return k == ReminderRegular || k == ReminderUrgent
}

// ReminderState is the derived reminder state machine position of a task.
type ReminderState string

const (
	StateNone             ReminderState = "none"
	StateRegularSent      ReminderState = "regular-sent"
	StateUrgentSent       ReminderState = "urgent-sent"
	StateOverdueSent      ReminderState = "overdue-sent"
	StateMotivationalSent ReminderState = "motivational-sent"
	StateCompleted        ReminderState = "completed"
	StateCancelled        ReminderState = "cancelled"
)

// Priority is the user-assigned importance of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority normalizes free text into a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// DefaultCategory is used when a task arrives without a category.
const DefaultCategory = "general"

// Category groups tasks. Lower Priority values sort first.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// TaskPlan is the typed sub-document carried by goal-plan tasks.
// Dependencies hold the IDs of tasks that must complete first.
type TaskPlan struct {
	Dependencies []string `json:"dependencies,omitempty" validate:"omitempty,dive,required"`
	Deliverables []string `json:"deliverables,omitempty" validate:"omitempty,dive,required,max=500"`
	Resources    []string `json:"resources,omitempty" validate:"omitempty,dive,required,max=500"`
}

// Task is a unit of work owned by a user.
type Task struct {
	ID                    string       `json:"id"`
	UserID                int64        `json:"user_id"`
	Title                 string       `json:"title"`
	Description           string       `json:"description,omitempty"`
	DueDate               time.Time    `json:"due_date"`
	StartDate             *time.Time   `json:"start_date,omitempty"`
	Status                TaskStatus   `json:"status"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	CancelledAt           *time.Time   `json:"cancelled_at,omitempty"`
	CancelReason          string       `json:"cancel_reason,omitempty"`
	Priority              Priority     `json:"priority"`
	CategoryID            int64        `json:"category_id,omitempty"`
	CategoryName          string       `json:"category,omitempty"`
	CategoryPriority      int          `json:"category_priority,omitempty"`
	LastReminderAt        *time.Time   `json:"last_reminder_at,omitempty"`
	LastReminderKind      ReminderKind `json:"last_reminder_kind,omitempty"`
	ReminderCount         int          `json:"reminder_count"`
	LastOverdueReminderAt *time.Time   `json:"last_overdue_reminder_at,omitempty"`
	UpcomingRemindedAt    *time.Time   `json:"upcoming_reminded_at,omitempty"`
	WorkloadWarnedAt      *time.Time   `json:"workload_warned_at,omitempty"`
	GoalID                string       `json:"goal_id,omitempty"`
	Order                 int          `json:"order,omitempty"`
	Plan                  TaskPlan     `json:"plan"`
	CanParallel           bool         `json:"can_parallel"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// IsTerminal reports whether the task is completed or cancelled.
func (t Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// UpcomingReminderSent reports whether the pre-due reminder went out.
func (t Task) UpcomingReminderSent() bool {
	return t.UpcomingRemindedAt != nil
}

// ReminderState derives the state machine position from status and the
// kind of the last confirmed delivery.
func (t Task) ReminderState() ReminderState {
	switch t.Status {
	case TaskCompleted:
		return StateCompleted
	case TaskCancelled:
		return StateCancelled
	case TaskReminded:
		switch t.LastReminderKind {
		case ReminderRegular:
			return StateRegularSent
		case ReminderUrgent:
			return StateUrgentSent
		case ReminderOverdue:
			return StateOverdueSent
		case ReminderMotivational:
			return StateMotivationalSent
		}
	}
	return StateNone
}

// User is a chat participant. ID is the platform user id.
type User struct {
	ID                      int64      `json:"user_id"`
	ChatID                  int64      `json:"chat_id"`
	Tone                    string     `json:"tone"`
	LastFinancialAnalysisAt *time.Time `json:"last_financial_analysis_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// ReminderEffectiveness holds per-user rolling reminder statistics.
// One row per user, overwritten on every recomputation.
type ReminderEffectiveness struct {
	UserID                int64         `json:"user_id"`
	CompletionRate        float64       `json:"completion_rate"`
	OnTimeRate            float64       `json:"on_time_rate"`
	AverageCompletionTime time.Duration `json:"average_completion_time"`
	OptimalInterval       time.Duration `json:"optimal_interval"`
	SampleSize            int           `json:"sample_size"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// HasData reports whether the statistics were computed from at least one task.
func (e *ReminderEffectiveness) HasData() bool {
	return e != nil && e.SampleSize > 0
}

// RecordType classifies a ledger entry.
type RecordType string

const (
	RecordIncome  RecordType = "income"
	RecordExpense RecordType = "expense"
	RecordSavings RecordType = "savings"
)

// ParseRecordType normalizes free text into a RecordType, defaulting to expense.
func ParseRecordType(s string) RecordType {
	switch RecordType(strings.ToLower(strings.TrimSpace(s))) {
	case RecordIncome:
		return RecordIncome
	case RecordSavings:
		return RecordSavings
	default:
		return RecordExpense
	}
}

// FinancialRecord is an immutable ledger entry.
type FinancialRecord struct {
	ID               string     `json:"id"`
	UserID           int64      `json:"user_id"`
	Amount           float64    `json:"amount"`
	Currency         string     `json:"currency"`
	Category         string     `json:"category"`
	Description      string     `json:"description,omitempty"`
	Type             RecordType `json:"type"`
	Date             time.Time  `json:"date"`
	RegularPaymentID string     `json:"regular_payment_id,omitempty"`
	IsPlanned        bool       `json:"is_planned"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Frequency is the cadence of a recurring payment.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnually  Frequency = "annually"
)

// ParseFrequency normalizes free text into a Frequency, defaulting to monthly.
func ParseFrequency(s string) Frequency {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case FrequencyQuarterly:
		return FrequencyQuarterly
	case FrequencyAnnually:
		return FrequencyAnnually
	default:
		return FrequencyMonthly
	}
}

// Days returns the fixed, calendar-naive increment of the frequency.
func (f Frequency) Days() int {
	switch f {
	case FrequencyQuarterly:
		return 91
	case FrequencyAnnually:
		return 365
	default:
		return 30
	}
}

// Advance returns the due date one cycle after d.
func (f Frequency) Advance(d time.Time) time.Time {
	return d.AddDate(0, 0, f.Days())
}

// DefaultCurrency is applied when a finance intent omits the currency.
const DefaultCurrency = "USD"

// RegularPayment is a recurring financial obligation.
// NextPaymentDate only moves forward, one Frequency increment at a time.
type RegularPayment struct {
	ID              string     `json:"id"`
	UserID          int64      `json:"user_id"`
	Amount          float64    `json:"amount"`
	Currency        string     `json:"currency"`
	Category        string     `json:"category"`
	Description     string     `json:"description,omitempty"`
	Frequency       Frequency  `json:"frequency"`
	NextPaymentDate time.Time  `json:"next_payment_date"`
	Active          bool       `json:"active"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	FailureCount    int        `json:"failure_count"`
	NoticeDays      int        `json:"notice_days"`
	NoticeSentFor   *time.Time `json:"notice_sent_for,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Goal is a deadline-bound aggregate of ordered tasks and milestones.
type Goal struct {
	ID            string    `json:"id"`
	UserID        int64     `json:"user_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Deadline      time.Time `json:"deadline"`
	Progress      int       `json:"progress"`
	Experience    string    `json:"experience,omitempty"`
	AvailableTime string    `json:"available_time,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Milestone is a checkpoint under a goal.
type Milestone struct {
	ID              string     `json:"id"`
	GoalID          string     `json:"goal_id"`
	Title           string     `json:"title"`
	ExpectedDate    time.Time  `json:"expected_date"`
	SuccessCriteria []string   `json:"success_criteria"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
