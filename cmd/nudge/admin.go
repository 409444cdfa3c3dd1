package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/nudge/internal/config"
	"github.com/hyperengineering/nudge/internal/store"
)

var (
	adminDBPath   string
	adminTimezone string
	adminJSON     bool
)

// addAdminFlags registers the flags shared by the one-shot maintenance
// commands.
func addAdminFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&adminDBPath, "db", "",
		"Database path (overrides config and NUDGE_DB_PATH)")
	cmd.Flags().StringVar(&adminTimezone, "timezone", "",
		"Scheduler timezone (overrides config and NUDGE_TIMEZONE)")
	cmd.Flags().BoolVar(&adminJSON, "json", false,
		"Output in JSON format")
}

// adminEnv is what a maintenance command needs: an open store and the
// scheduler timezone.
type adminEnv struct {
	store  *store.SQLiteStore
	loc    *time.Location
	logger *slog.Logger
}

// resolveAdminEnv opens the store without starting any job. With --db the
// configuration file is not consulted at all, so no secrets are required.
func resolveAdminEnv(cmd *cobra.Command) (*adminEnv, error) {
	logger := newLogger(cmd.ErrOrStderr(), config.LogConfig{Level: "warn", Format: "text"})

	path := adminDBPath
	tz := adminTimezone
	retry := config.RetryConfig{Attempts: 3, Backoff: config.Duration(time.Second)}
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		path = cfg.Database.Path
		retry = cfg.Retry
		if tz == "" {
			tz = cfg.Scheduler.Timezone
		}
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	db, err := openStore(path, retry, logger)
	if err != nil {
		return nil, err
	}
	return &adminEnv{store: db, loc: loc, logger: logger}, nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
