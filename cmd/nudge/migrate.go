package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long:  "Opens the database, applies any pending migrations and prints the schema version.",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	addAdminFlags(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	env, err := resolveAdminEnv(cmd)
	if err != nil {
		return err
	}
	defer env.store.Close()

	version, err := env.store.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if adminJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"schema_version": version})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
	return nil
}
