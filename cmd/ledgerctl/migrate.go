package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

var flagSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate("up")
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations (all unless --steps is set)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate("down")
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}
		version, dirty, err := db.MigrationVersion(cfg.PGDSN)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
		return nil
	},
}

func init() {
	migrateUpCmd.Flags().IntVar(&flagSteps, "steps", 0, "Number of migrations to apply (0 = all)")
	migrateDownCmd.Flags().IntVar(&flagSteps, "steps", 0, "Number of migrations to roll back (0 = all)")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func runMigrate(direction string) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	return db.Migrate(cfg.PGDSN, direction, flagSteps, app.NewLogger(cfg))
}
