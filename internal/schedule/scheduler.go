// Package schedule owns every time-driven trigger in the process: fixed
// cron expressions, fixed-interval sweeps and one-shot future triggers.
// It carries no business logic.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hyperengineering/nudge/internal/metrics"
)

// Job is the unit of work a trigger runs. The context is cancelled when
// the scheduler shuts down.
type Job func(ctx context.Context) error

// Scheduler is an explicitly constructed trigger registry with a
// Start/Shutdown lifecycle.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*time.Timer
	names   map[cron.EntryID]string
	started bool
	closed  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used for one-shot triggers.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler whose cron expressions are evaluated in loc.
func New(loc *time.Location, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	adapter := cronLogger{logger: logger.With("component", "scheduler")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.SkipIfStillRunning(adapter)),
		),
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[string]*time.Timer),
		names:  make(map[cron.EntryID]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cron registers a job on a standard five-field cron expression.
// An overlapping run is skipped rather than queued.
func (s *Scheduler) Cron(name, spec string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("register %s (%q): %w", name, spec, err)
	}
	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
	return nil
}

// Every registers a job on a fixed interval, rounded to whole seconds.
// Like Cron, an overlapping run is skipped.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() { s.run(name, job) }))
	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
}

// Once registers a one-shot trigger at the given time, replacing any
// pending trigger with the same name. Past times fire immediately.
// Returns false when the scheduler is shut down.
func (s *Scheduler) Once(name string, at time.Time, job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	if prev, ok := s.timers[name]; ok {
		prev.Stop()
	}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[name] != timer {
			// Replaced after this timer had already fired.
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		metrics.PendingTriggers.Set(float64(len(s.timers)))
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		s.run(name, job)
	})
	s.timers[name] = timer
	metrics.PendingTriggers.Set(float64(len(s.timers)))
	return true
}

// Cancel removes a pending one-shot trigger.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[name]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, name)
	metrics.PendingTriggers.Set(float64(len(s.timers)))
	return true
}

// Pending returns the number of one-shot triggers waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// NextRuns reports the next activation of every recurring job by name.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.names))
	for _, e := range s.cron.Entries() {
		if name, ok := s.names[e.ID]; ok {
			out[name] = e.Next
		}
	}
	return out
}

// Start begins firing recurring jobs. One-shot triggers fire regardless.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started",
		"component", "scheduler",
		"action", "start",
		"recurring_jobs", len(s.names),
	)
}

// Shutdown stops accepting triggers, drops pending one-shots and waits for
// running jobs until ctx expires. Job contexts are cancelled on return.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := len(s.timers)
	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
	metrics.PendingTriggers.Set(0)
	s.mu.Unlock()

	defer s.cancel()

	cronDone := s.cron.Stop()
	timersDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(timersDone)
	}()

	for _, done := range []<-chan struct{}{cronDone.Done(), timersDone} {
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("scheduler shutdown timed out",
				"component", "scheduler",
				"action", "shutdown",
			)
			return ctx.Err()
		}
	}

	s.logger.Info("scheduler stopped",
		"component", "scheduler",
		"action", "shutdown",
		"dropped_triggers", dropped,
	)
	return nil
}

// run executes one job invocation. Errors and panics are logged and never
// escape, so the scheduler stays alive.
func (s *Scheduler) run(name string, job Job) {
	label := jobLabel(name)
	timer := metrics.TrackJob(label)
	defer timer.ObserveDuration()

	defer func() {
		if r := recover(); r != nil {
			metrics.JobRuns.WithLabelValues(label, "panic").Inc()
			s.logger.Error("job panicked",
				"component", "scheduler",
				"job", name,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := job(s.ctx); err != nil {
		metrics.JobRuns.WithLabelValues(label, "error").Inc()
		s.logger.Error("job failed",
			"component", "scheduler",
			"job", name,
			"error", err,
		)
		return
	}
	metrics.JobRuns.WithLabelValues(label, "ok").Inc()
}

// jobLabel collapses per-task trigger names ("reminder:<id>") into one
// metric label.
func jobLabel(name string) string {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return name
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
