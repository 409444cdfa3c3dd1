package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/nudge/internal/config"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "nudge",
	Short: "Nudge - chat task assistant",
	Long: "Runs the chat poller, the HTTP API and every scheduled job " +
		"(reminders, sweeps, summaries, payments and finance analysis).",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(effectivenessCmd)
	rootCmd.AddCommand(paymentsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "level", cfg.Log.Level, "timezone", cfg.Scheduler.Timezone)

	// 4. Wire store, collaborators, jobs and router
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// 5. Re-register reminders lost with the previous process
	if n, err := a.reconciler.Run(ctx); err != nil {
		logger.Error("reminder reconciliation failed", "error", err)
	} else {
		logger.Info("reminders reconciled", "tasks", n)
	}

	// 6. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 7. Start scheduler, server and poller
	a.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.poller != nil {
		g.Go(func() error {
			logger.Info("worker started", "worker", "poller")
			err := a.poller.Run(gctx, a.chat)
			logger.Info("worker stopped", "worker", "poller")
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("poller: %w", err)
			}
			return nil
		})
	} else {
		logger.Warn("chat transport not configured, outbound messages are logged only")
	}

	// 8. Block until signal received or a component fails
	<-gctx.Done()
	logger.Info("shutdown initiated")

	// 9. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 9a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// 9b. Wait for the poller and a failing component's error
	runErr := g.Wait()

	// 9c. Drop pending triggers and wait for running jobs
	if err := a.scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}

	// 9d. Close guard and store
	a.close()

	logger.Info("shutdown complete")
	return runErr
}

// newLogger builds the process logger. Any format other than "text" is JSON.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
