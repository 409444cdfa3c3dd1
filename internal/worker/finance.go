package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/nudge/internal/archive"
	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/guard"
	"github.com/hyperengineering/nudge/internal/metrics"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/types"
)

// AnalysisPeriod is how far back the weekly analysis looks.
const AnalysisPeriod = 7 * 24 * time.Hour

// Analyzer produces a financial commentary. Implemented by
// *assistant.Analyst.
type Analyzer interface {
	Analyze(ctx context.Context, expenses, income []types.FinancialRecord) (string, error)
}

// FinanceSweep delivers the weekly financial analysis to every user whose
// last analysis is missing or at least one interval old.
type FinanceSweep struct {
	uow      store.UnitOfWork
	analyst  Analyzer
	notifier Notifier
	archiver archive.Archiver
	guard    guard.Guard
	interval time.Duration
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// NewFinanceSweep creates the sweep. A nil analyst uses the static
// category breakdown; a nil archiver keeps nothing.
func NewFinanceSweep(uow store.UnitOfWork, analyst Analyzer, n Notifier, a archive.Archiver, g guard.Guard, interval time.Duration, loc *time.Location, logger *slog.Logger) *FinanceSweep {
	if logger == nil {
		logger = slog.Default()
	}
	if a == nil {
		a = archive.NoopArchiver{}
	}
	if g == nil {
		g = guard.NewMemoryGuard()
	}
	if interval <= 0 {
		interval = AnalysisPeriod
	}
	if loc == nil {
		loc = time.UTC
	}
	return &FinanceSweep{
		uow:      uow,
		analyst:  analyst,
		notifier: n,
		archiver: a,
		guard:    g,
		interval: interval,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}
}

// Run performs one sweep.
func (s *FinanceSweep) Run(ctx context.Context) error {
	now := s.now()
	cutoff := now.Add(-s.interval)

	var users []types.User
	if err := s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		users, err = tx.ListUsersDueForAnalysis(ctx, cutoff)
		return err
	}); err != nil {
		return fmt.Errorf("list users due for analysis: %w", err)
	}

	var delivered, failed int
	for i := range users {
		if ctx.Err() != nil {
			return nil
		}
		ok, err := s.analyzeUser(ctx, &users[i], now, cutoff)
		if err != nil {
			failed++
			s.logger.Error("financial analysis failed",
				"component", "worker",
				"worker", "finance-sweep",
				"user_id", users[i].ID,
				"error", err,
			)
			continue
		}
		if ok {
			delivered++
		}
	}

	if len(users) > 0 {
		s.logger.Info("financial analysis completed",
			"component", "worker",
			"worker", "finance-sweep",
			"users_due", len(users),
			"users_delivered", delivered,
			"users_failed", failed,
		)
	}
	return nil
}

func (s *FinanceSweep) analyzeUser(ctx context.Context, user *types.User, now, cutoff time.Time) (bool, error) {
	key := fmt.Sprintf("analysis:%d", user.ID)
	held, err := s.guard.Acquire(ctx, key, time.Hour)
	if err != nil {
		s.logger.Warn("delivery guard unavailable, continuing without it",
			"component", "worker",
			"worker", "finance-sweep",
			"error", err,
		)
	} else if !held {
		return false, nil
	}
	defer s.guard.Release(context.WithoutCancel(ctx), key)

	// Seven calendar days ending today; the day a week back belongs to the
	// previous report.
	today := calendarDate(now, s.loc)
	from := today.Add(-AnalysisPeriod).AddDate(0, 0, 1)
	var records []types.FinancialRecord
	if err := s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		records, err = tx.ListFinancialRecords(ctx, user.ID, from, today)
		return err
	}); err != nil {
		return false, fmt.Errorf("list financial records: %w", err)
	}
	if len(records) == 0 {
		s.logger.Debug("no financial records this week",
			"component", "worker",
			"worker", "finance-sweep",
			"user_id", user.ID,
		)
		return false, nil
	}

	var expenses, income []types.FinancialRecord
	for _, r := range records {
		switch r.Type {
		case types.RecordIncome:
			income = append(income, r)
		case types.RecordExpense:
			expenses = append(expenses, r)
		}
	}

	details := ""
	if s.analyst != nil {
		details, err = s.analyst.Analyze(ctx, expenses, income)
		if err != nil {
			metrics.RenderFallbacks.WithLabelValues(string(assistant.KindFinancialAnalysis)).Inc()
			s.logger.Warn("analysis service failed, using category breakdown",
				"component", "worker",
				"worker", "finance-sweep",
				"user_id", user.ID,
				"error", err,
			)
		}
	}
	if details == "" {
		details = CategoryBreakdown(expenses)
	}

	text, err := s.notifier.Notify(ctx, user, assistant.KindFinancialAnalysis, map[string]string{
		"income":   formatAmount(total(income)),
		"expenses": formatAmount(total(expenses)),
		"details":  details,
	}, nil)
	if err != nil {
		metrics.DeliveryFailures.WithLabelValues("finance-sweep").Inc()
		return false, fmt.Errorf("deliver analysis: %w", err)
	}

	var stamped bool
	if err := s.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		stamped, err = tx.StampFinancialAnalysis(ctx, user.ID, now, cutoff)
		return err
	}); err != nil {
		return true, fmt.Errorf("stamp analysis: %w", err)
	}
	if !stamped {
		s.logger.Warn("analysis already stamped by a concurrent run",
			"component", "worker",
			"worker", "finance-sweep",
			"user_id", user.ID,
		)
	}

	if objectKey, err := s.archiver.Archive(ctx, user.ID, now, text); err != nil {
		s.logger.Warn("archive financial report failed",
			"component", "worker",
			"worker", "finance-sweep",
			"user_id", user.ID,
			"error", err,
		)
	} else if objectKey != "" {
		s.logger.Debug("financial report archived",
			"component", "worker",
			"worker", "finance-sweep",
			"user_id", user.ID,
			"object_key", objectKey,
		)
	}
	return true, nil
}

// CategoryBreakdown lists expense totals per category, largest first.
func CategoryBreakdown(expenses []types.FinancialRecord) string {
	if len(expenses) == 0 {
		return "No expenses recorded this week."
	}
	sums := make(map[string]float64)
	for _, r := range expenses {
		sums[r.Category] += r.Amount
	}
	cats := make([]string, 0, len(sums))
	for c := range sums {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if sums[cats[i]] != sums[cats[j]] {
			return sums[cats[i]] > sums[cats[j]]
		}
		return cats[i] < cats[j]
	})
	lines := make([]string, len(cats))
	for i, c := range cats {
		name := c
		if name == "" {
			name = "other"
		}
		lines[i] = fmt.Sprintf("- %s: %s", name, formatAmount(sums[c]))
	}
	return strings.Join(lines, "\n")
}

func total(records []types.FinancialRecord) float64 {
	var sum float64
	for _, r := range records {
		sum += r.Amount
	}
	return sum
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
