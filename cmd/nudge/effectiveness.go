package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/nudge/internal/worker"
)

var effectivenessCmd = &cobra.Command{
	Use:   "effectiveness",
	Short: "Recompute reminder effectiveness for every user",
	Args:  cobra.NoArgs,
	RunE:  runEffectiveness,
}

func init() {
	addAdminFlags(effectivenessCmd)
}

func runEffectiveness(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := resolveAdminEnv(cmd)
	if err != nil {
		return err
	}
	defer env.store.Close()

	stats, err := worker.NewEffectivenessTracker(env.store, env.logger).RecomputeAll(ctx)
	if err != nil {
		return fmt.Errorf("recompute effectiveness: %w", err)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].UserID < stats[j].UserID
	})

	if adminJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"users": stats,
			"total": len(stats),
		})
	}

	if len(stats) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No users found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "USER\tSAMPLES\tCOMPLETION\tON TIME\tAVG COMPLETION\tINTERVAL")
	for _, e := range stats {
		if !e.HasData() {
			fmt.Fprintf(w, "%d\t0\t-\t-\t-\t-\n", e.UserID)
			continue
		}
		fmt.Fprintf(w, "%d\t%d\t%.0f%%\t%.0f%%\t%s\t%s\n",
			e.UserID,
			e.SampleSize,
			e.CompletionRate*100,
			e.OnTimeRate*100,
			e.AverageCompletionTime.Round(time.Minute),
			e.OptimalInterval.Round(time.Minute),
		)
	}
	w.Flush()

	return nil
}
