package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/metrics"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/types"
)

// MaxCatchUp bounds how many missed cycles of one payment a single run
// materializes.
const MaxCatchUp = 12

// PaymentReport summarizes one processor run.
type PaymentReport struct {
	Recorded    int
	Deactivated int
	Failed      int
	Notices     int
}

// PaymentProcessor turns due recurring payments into planned ledger
// entries and advances their next date. The entry and the advancement
// commit together; notifications go out after the commit and never roll
// it back.
type PaymentProcessor struct {
	uow      store.UnitOfWork
	notifier Notifier
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// NewPaymentProcessor creates the processor.
func NewPaymentProcessor(uow store.UnitOfWork, n Notifier, loc *time.Location, logger *slog.Logger) *PaymentProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PaymentProcessor{uow: uow, notifier: n, loc: loc, logger: logger, now: time.Now}
}

// Run processes due payments, then sends lead-time notices.
func (p *PaymentProcessor) Run(ctx context.Context) error {
	_, err := p.Process(ctx)
	return err
}

// Process is Run with a report, for the CLI.
func (p *PaymentProcessor) Process(ctx context.Context) (PaymentReport, error) {
	today := calendarDate(p.now(), p.loc)
	var report PaymentReport

	var due []types.RegularPayment
	if err := p.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		due, err = tx.ListDuePayments(ctx, today)
		return err
	}); err != nil {
		return report, fmt.Errorf("list due payments: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			return report, nil
		}
		p.processPayment(ctx, &due[i], today, &report)
	}

	p.sendNotices(ctx, today, &report)

	if report != (PaymentReport{}) {
		p.logger.Info("payment processing completed",
			"component", "worker",
			"worker", "payment-processor",
			"payments_due", len(due),
			"cycles_recorded", report.Recorded,
			"payments_deactivated", report.Deactivated,
			"payments_failed", report.Failed,
			"notices_sent", report.Notices,
		)
	}
	return report, nil
}

func (p *PaymentProcessor) processPayment(ctx context.Context, pay *types.RegularPayment, today time.Time, report *PaymentReport) {
	log := p.logger.With(
		"component", "worker",
		"worker", "payment-processor",
		"payment_id", pay.ID,
		"user_id", pay.UserID,
	)

	for n := 0; n < MaxCatchUp && !pay.NextPaymentDate.After(today); n++ {
		cycle := pay.NextPaymentDate

		if pay.EndDate != nil && cycle.After(*pay.EndDate) {
			if err := p.uow.Do(ctx, func(tx *store.Tx) error {
				return tx.DeactivatePayment(ctx, pay.ID)
			}); err != nil {
				log.Error("deactivate payment failed", "error", err)
				report.Failed++
				return
			}
			metrics.PaymentsProcessed.WithLabelValues("deactivated").Inc()
			report.Deactivated++
			log.Info("payment reached its end date", "end_date", pay.EndDate.Format("2006-01-02"))
			return
		}

		next := pay.Frequency.Advance(cycle)
		var user *types.User
		err := p.uow.Do(ctx, func(tx *store.Tx) error {
			var err error
			if user, err = tx.GetUser(ctx, pay.UserID); err != nil {
				return err
			}
			if err := tx.CreateFinancialRecord(ctx, &types.FinancialRecord{
				UserID:           pay.UserID,
				Amount:           pay.Amount,
				Currency:         pay.Currency,
				Category:         pay.Category,
				Description:      pay.Description,
				Type:             types.RecordExpense,
				Date:             cycle,
				RegularPaymentID: pay.ID,
				IsPlanned:        true,
			}); err != nil {
				return err
			}
			return tx.AdvancePayment(ctx, pay.ID, cycle, next)
		})
		switch {
		case errors.Is(err, store.ErrConflict):
			log.Warn("payment cycle already processed", "cycle", cycle.Format("2006-01-02"))
			metrics.PaymentsProcessed.WithLabelValues("conflict").Inc()
			return
		case err != nil:
			report.Failed++
			metrics.PaymentsProcessed.WithLabelValues("failed").Inc()
			log.Error("record payment cycle failed", "cycle", cycle.Format("2006-01-02"), "error", err)
			if err := p.uow.Do(ctx, func(tx *store.Tx) error {
				return tx.IncrementPaymentFailure(ctx, pay.ID)
			}); err != nil {
				log.Error("increment payment failure count failed", "error", err)
			}
			return
		}

		report.Recorded++
		metrics.PaymentsProcessed.WithLabelValues("recorded").Inc()
		pay.NextPaymentDate = next
		log.Info("payment cycle recorded",
			"cycle", cycle.Format("2006-01-02"),
			"next_payment_date", next.Format("2006-01-02"),
		)

		if _, err := p.notifier.Notify(ctx, user, assistant.KindPaymentProcessed, paymentParams(pay, next), nil); err != nil {
			metrics.DeliveryFailures.WithLabelValues("payment-processor").Inc()
			log.Error("payment notification failed", "error", err)
		}
	}
}

// sendNotices announces payments whose next date falls within their
// notice lead time, once per cycle.
func (p *PaymentProcessor) sendNotices(ctx context.Context, today time.Time, report *PaymentReport) {
	var active []types.RegularPayment
	if err := p.uow.Do(ctx, func(tx *store.Tx) error {
		var err error
		active, err = tx.ListActivePayments(ctx)
		return err
	}); err != nil {
		p.logger.Error("list payments for notices failed",
			"component", "worker",
			"worker", "payment-processor",
			"error", err,
		)
		return
	}

	for i := range active {
		pay := &active[i]
		if !NoticeDue(pay, today) {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		var user *types.User
		if err := p.uow.Do(ctx, func(tx *store.Tx) error {
			var err error
			user, err = tx.GetUser(ctx, pay.UserID)
			return err
		}); err != nil {
			p.logger.Error("load payment owner failed",
				"component", "worker",
				"worker", "payment-processor",
				"payment_id", pay.ID,
				"error", err,
			)
			continue
		}

		if _, err := p.notifier.Notify(ctx, user, assistant.KindPaymentNotice, paymentParams(pay, pay.NextPaymentDate), nil); err != nil {
			metrics.DeliveryFailures.WithLabelValues("payment-processor").Inc()
			p.logger.Error("payment notice failed",
				"component", "worker",
				"worker", "payment-processor",
				"payment_id", pay.ID,
				"error", err,
			)
			continue
		}
		if err := p.uow.Do(ctx, func(tx *store.Tx) error {
			_, err := tx.MarkPaymentNotice(ctx, pay.ID, pay.NextPaymentDate)
			return err
		}); err != nil {
			p.logger.Error("mark payment notice failed",
				"component", "worker",
				"worker", "payment-processor",
				"payment_id", pay.ID,
				"error", err,
			)
			continue
		}
		report.Notices++
	}
}

// NoticeDue reports whether the lead-time notice for the payment's next
// cycle should go out today.
func NoticeDue(pay *types.RegularPayment, today time.Time) bool {
	if pay.NoticeDays <= 0 || !pay.NextPaymentDate.After(today) {
		return false
	}
	if pay.NextPaymentDate.After(today.AddDate(0, 0, pay.NoticeDays)) {
		return false
	}
	return pay.NoticeSentFor == nil || !pay.NoticeSentFor.Equal(pay.NextPaymentDate)
}

func paymentParams(pay *types.RegularPayment, next time.Time) map[string]string {
	return map[string]string{
		"amount":    formatAmount(pay.Amount),
		"currency":  pay.Currency,
		"category":  pay.Category,
		"next_date": next.Format("2006-01-02"),
		"date":      next.Format("2006-01-02"),
	}
}
