package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

var (
	flagKey        string
	flagRetryLimit int
	flagRule       string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Queue accrual jobs and inspect the queue",
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		jc, err := openJobs()
		if err != nil {
			return err
		}
		defer jc.Close()
		stats, err := jc.InspectQueue(cmd.Context())
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d processed=%d failed=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived, stats.Processed, stats.Failed)
		return nil
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "List tasks waiting for a retry",
	RunE: func(cmd *cobra.Command, args []string) error {
		jc, err := openJobs()
		if err != nil {
			return err
		}
		defer jc.Close()
		tasks, err := jc.ListRetry(cmd.Context(), flagRetryLimit)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tretried=%d/%d\tnext=%s\t%s\n",
				t.ID, t.Type, t.Retried, t.MaxRetry, t.NextProcessAt.UTC().Format(time.RFC3339), t.LastErr)
		}
		return nil
	},
}

var jobsEnqueueCmd = &cobra.Command{
	Use:       "enqueue <run_one|run_due|period_end|reversals>",
	Short:     "Queue an accrual job for the worker",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(accruals.JobRunOne), string(accruals.JobRunDue), string(accruals.JobPeriodEnd), string(accruals.JobReversals)},
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, err := requireOrg()
		if err != nil {
			return err
		}
		actorID, err := parseUUIDFlag("actor", flagActor)
		if err != nil {
			return err
		}
		job := accruals.AsyncJob{
			Kind:           accruals.JobKind(args[0]),
			OrganizationID: orgID,
			ActorID:        actorID,
			IdempotencyKey: flagKey,
		}
		if flagRule != "" {
			id, err := uuid.Parse(flagRule)
			if err != nil {
				return fmt.Errorf("--rule: %w", err)
			}
			job.RuleID = &id
		}
		if flagPeriod != "" {
			id, err := uuid.Parse(flagPeriod)
			if err != nil {
				return fmt.Errorf("--period: %w", err)
			}
			job.PeriodID = &id
		}
		if flagDate != "" {
			d, err := httpx.ParseDate(flagDate)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			job.AsOfDate = &d
		}
		jc, err := openJobs()
		if err != nil {
			return err
		}
		defer jc.Close()
		id, err := jc.Enqueue(cmd.Context(), job)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", id)
		return nil
	},
}

func init() {
	jobsRetryCmd.Flags().IntVar(&flagRetryLimit, "limit", 10, "Maximum tasks to list")
	f := jobsEnqueueCmd.Flags()
	f.StringVar(&flagActor, "actor", "", "Acting user id")
	f.StringVar(&flagRule, "rule", "", "Rule id (run_one)")
	f.StringVar(&flagPeriod, "period", "", "Period id (period_end, reversals, optional override for run_one)")
	f.StringVar(&flagDate, "date", "", "As-of date YYYY-MM-DD (run_one, run_due, optional for period_end)")
	f.StringVar(&flagKey, "key", "", "Idempotency key; repeats are rejected while queued")
	jobsCmd.AddCommand(jobsStatsCmd, jobsRetryCmd, jobsEnqueueCmd)
}

func openJobs() (*cli.JobsCLI, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	return cli.NewJobsCLI(cfg.Queue())
}
