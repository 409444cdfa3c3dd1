package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/config"
	"github.com/hyperengineering/nudge/internal/transport"
	"github.com/hyperengineering/nudge/internal/worker"
)

var paymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Materialize due recurring payments once",
	Long: "Records every due recurring payment as a planned expense and advances " +
		"its next date. Notices are written to the log instead of the chat.",
	Args: cobra.NoArgs,
	RunE: runPayments,
}

func init() {
	addAdminFlags(paymentsCmd)
}

func runPayments(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := resolveAdminEnv(cmd)
	if err != nil {
		return err
	}
	defer env.store.Close()

	notifier := worker.Notifier{
		Composer: assistant.NewComposer(nil, env.logger),
		Sender:   transport.NewLogSender(newLogger(cmd.ErrOrStderr(), config.LogConfig{Level: "info", Format: "text"})),
	}
	report, err := worker.NewPaymentProcessor(env.store, notifier, env.loc, env.logger).Process(ctx)
	if err != nil {
		return fmt.Errorf("process payments: %w", err)
	}

	if adminJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"recorded":    report.Recorded,
			"deactivated": report.Deactivated,
			"failed":      report.Failed,
			"notices":     report.Notices,
		})
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "Recorded:\t%d\n", report.Recorded)
	fmt.Fprintf(w, "Deactivated:\t%d\n", report.Deactivated)
	fmt.Fprintf(w, "Failed:\t%d\n", report.Failed)
	fmt.Fprintf(w, "Notices:\t%d\n", report.Notices)
	w.Flush()

	return nil
}
