package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

var (
	flagOrg  string
	flagJSON bool
)

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Administer the Odyssey ledger",
	Long:          "Operational commands for the Odyssey ledger: schema migrations, scheduled tasks, accrual runs, trial balances and the job queue.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagOrg, "org", "", "Organization id")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print JSON instead of tables")
	rootCmd.AddCommand(migrateCmd, tasksCmd, accrualsCmd, trialBalanceCmd, jobsCmd)
}

// runtime holds what a command needs to reach the database.
type runtime struct {
	cfg      *app.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	services *app.Services
}

func (r *runtime) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.Postgres("ledgerctl"))
	if err != nil {
		return nil, err
	}
	return &runtime{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		services: app.NewServices(pool, cfg, nil, logger),
	}, nil
}

func requireOrg() (uuid.UUID, error) {
	if flagOrg == "" {
		return uuid.Nil, fmt.Errorf("--org is required")
	}
	id, err := uuid.Parse(flagOrg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--org: %w", err)
	}
	return id, nil
}

func parseUUIDFlag(name, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("--%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %w", name, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
