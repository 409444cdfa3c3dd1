package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/nudge/internal/api"
	"github.com/hyperengineering/nudge/internal/archive"
	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/chat"
	"github.com/hyperengineering/nudge/internal/config"
	"github.com/hyperengineering/nudge/internal/guard"
	"github.com/hyperengineering/nudge/internal/reminder"
	"github.com/hyperengineering/nudge/internal/schedule"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/tasks"
	"github.com/hyperengineering/nudge/internal/transport"
	"github.com/hyperengineering/nudge/internal/worker"
)

// Recurring job names as registered with the scheduler.
const (
	jobDailySummary  = "daily-summary"
	jobWeeklyFinance = "weekly-finance"
	jobPayments      = "payments"
	jobEffectiveness = "effectiveness"
	jobUpcoming      = "upcoming-sweep"
	jobOverdue       = "overdue-sweep"
)

// app holds the wired process. Nothing is started by newApp.
type app struct {
	store      *store.SQLiteStore
	closeGuard func() error
	scheduler  *schedule.Scheduler
	reconciler *worker.Reconciler
	chat       *chat.Handler
	poller     *transport.Poller
	router     *chi.Mux
}

// assistantStack is the generative half of the wiring. Every field stays
// nil without an API key, which selects static templates, no intent
// parsing and no goal planning.
type assistantStack struct {
	renderer assistant.Renderer
	parser   chat.IntentParser
	analyst  worker.Analyzer
	planner  tasks.GoalPlanner
}

func newAssistantStack(cfg config.AssistantConfig, loc *time.Location, logger *slog.Logger) assistantStack {
	if cfg.APIKey == "" {
		return assistantStack{}
	}
	llm := assistant.NewClient(cfg)
	return assistantStack{
		renderer: assistant.NewRenderer(llm),
		parser:   assistant.NewIntentParser(llm, loc, logger),
		analyst:  assistant.NewAnalyst(llm),
		planner:  assistant.NewPlanner(llm),
	}
}

func newGuard(ctx context.Context, cfg config.GuardConfig) (guard.Guard, func() error, error) {
	if cfg.RedisURL == "" {
		return guard.NewMemoryGuard(), func() error { return nil }, nil
	}
	g, err := guard.NewRedisGuard(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}

// newTransport returns the bot sender and poller, or a log-only sender
// and a nil poller when no token is configured.
func newTransport(cfg config.TransportConfig, logger *slog.Logger) (transport.Sender, *transport.Poller, error) {
	bot, err := transport.Connect(cfg.Token)
	if errors.Is(err, transport.ErrNotConfigured) {
		return transport.NewLogSender(logger), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return transport.NewMaxSender(bot), transport.NewPoller(bot, logger), nil
}

func openStore(path string, retry config.RetryConfig, logger *slog.Logger) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(path,
		store.WithRetryPolicy(store.RetryPolicy{
			Attempts: retry.Attempts,
			Backoff:  time.Duration(retry.Backoff),
		}),
		store.WithLogger(logger),
	)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	sc := cfg.Scheduler

	db, err := openStore(cfg.Database.Path, cfg.Retry, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("store initialized", "path", cfg.Database.Path)

	g, closeGuard, err := newGuard(ctx, cfg.Guard)
	if err != nil {
		db.Close()
		return nil, err
	}

	sender, poller, err := newTransport(cfg.Transport, logger)
	if err != nil {
		closeGuard()
		db.Close()
		return nil, err
	}

	archiver, err := archive.New(cfg.Archive)
	if err != nil {
		closeGuard()
		db.Close()
		return nil, err
	}

	ai := newAssistantStack(cfg.Assistant, loc, logger)
	if ai.parser == nil {
		logger.Warn("assistant not configured, using static templates")
	}
	composer := assistant.NewComposer(ai.renderer, logger)
	notifier := worker.Notifier{Composer: composer, Sender: sender}

	sched := schedule.New(loc, logger)
	dispatcher := reminder.NewDispatcher(db, composer, sender, g, reminder.Options{
		Location:    loc,
		Horizon:     time.Duration(sc.ReminderHorizon),
		RepeatFloor: time.Duration(sc.OverdueFloor),
		GuardTTL:    time.Duration(cfg.Guard.TTL),
	}, logger)
	runner := worker.NewReminderRunner(sched, dispatcher, logger)

	svcOpts := []tasks.Option{tasks.WithLogger(logger)}
	if ai.planner != nil {
		svcOpts = append(svcOpts, tasks.WithPlanner(ai.planner))
	}
	svc := tasks.NewService(db, runner, svcOpts...)
	chatHandler := chat.NewHandler(db, svc, ai.parser, composer, sender, loc, logger)

	a := &app{
		store:      db,
		closeGuard: closeGuard,
		scheduler:  sched,
		reconciler: worker.NewReconciler(db, runner, time.Duration(sc.ReconcileDelay), logger),
		chat:       chatHandler,
		poller:     poller,
		router:     api.NewRouter(api.NewHandler(db, sched, chatHandler, svc, cfg.Auth.APIKey, Version)),
	}

	crons := []struct {
		name string
		spec string
		job  schedule.Job
	}{
		{jobDailySummary, fmt.Sprintf("0 %d * * *", sc.DailySummaryHour),
			worker.NewDailySummary(db, notifier, loc, logger).Run},
		{jobWeeklyFinance, sc.WeeklyFinanceCron,
			worker.NewFinanceSweep(db, ai.analyst, notifier, archiver, g, time.Duration(sc.AnalysisInterval), loc, logger).Run},
		{jobPayments, sc.PaymentsCron,
			worker.NewPaymentProcessor(db, notifier, loc, logger).Run},
		{jobEffectiveness, sc.EffectivenessCron,
			worker.NewEffectivenessTracker(db, logger).Run},
	}
	for _, c := range crons {
		if err := sched.Cron(c.name, c.spec, c.job); err != nil {
			a.close()
			return nil, err
		}
	}

	sched.Every(jobUpcoming, time.Duration(sc.UpcomingInterval), worker.NewUpcomingSweep(db, notifier, g, worker.UpcomingConfig{
		Window:         time.Duration(sc.UpcomingWindow),
		WorkloadWindow: time.Duration(sc.WorkloadWindow),
		Location:       loc,
		GuardTTL:       time.Duration(cfg.Guard.TTL),
	}, logger).Run)
	sched.Every(jobOverdue, time.Duration(sc.OverdueInterval),
		worker.NewOverdueSweep(db, runner, time.Duration(sc.OverdueFloor), logger).Run)

	return a, nil
}

// close releases the guard and the store. The scheduler is shut down
// separately so running jobs can finish first.
func (a *app) close() {
	if err := a.closeGuard(); err != nil {
		slog.Error("guard close error", "error", err)
	}
	if err := a.store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}
}
