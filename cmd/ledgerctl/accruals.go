package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

var (
	flagActor  string
	flagDate   string
	flagPeriod string
)

var accrualsCmd = &cobra.Command{
	Use:   "accruals",
	Short: "Run accruals synchronously",
}

var accrualsRunDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Run every calendar rule due on --date",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccrualScope(cmd, func(ctx context.Context, rt *runtime, orgID, actorID uuid.UUID) error {
			asOf, err := httpx.ParseDate(flagDate)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			results, err := rt.services.Accruals.RunDue(ctx, orgID, actorID, asOf)
			if err != nil {
				return err
			}
			return reportResults(cmd.OutOrStdout(), results)
		})
	},
}

var accrualsRunPeriodEndCmd = &cobra.Command{
	Use:   "run-period-end",
	Short: "Run the PERIOD_END rules of --period",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccrualScope(cmd, func(ctx context.Context, rt *runtime, orgID, actorID uuid.UUID) error {
			periodID, err := parseUUIDFlag("period", flagPeriod)
			if err != nil {
				return err
			}
			in := accruals.PeriodEndInput{OrganizationID: orgID, ActorID: actorID, PeriodID: periodID}
			if flagDate != "" {
				asOf, err := httpx.ParseDate(flagDate)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				in.AsOfDateOverride = &asOf
			}
			results, err := rt.services.Accruals.RunPeriodEnd(ctx, in)
			if err != nil {
				return err
			}
			return reportResults(cmd.OutOrStdout(), results)
		})
	},
}

var accrualsRunReversalsCmd = &cobra.Command{
	Use:   "run-reversals",
	Short: "Reverse eligible accruals into --period",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccrualScope(cmd, func(ctx context.Context, rt *runtime, orgID, actorID uuid.UUID) error {
			periodID, err := parseUUIDFlag("period", flagPeriod)
			if err != nil {
				return err
			}
			result, err := rt.services.Accruals.RunReversals(ctx, orgID, actorID, periodID)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d reversed, %d failed\n", result.ReversedCount, result.FailedCount)
			if result.FailedCount > 0 {
				return fmt.Errorf("%d reversals failed", result.FailedCount)
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{accrualsRunDueCmd, accrualsRunPeriodEndCmd, accrualsRunReversalsCmd} {
		c.Flags().StringVar(&flagActor, "actor", "", "Acting user id (defaults to the organization's system user)")
	}
	accrualsRunDueCmd.Flags().StringVar(&flagDate, "date", "", "As-of date (YYYY-MM-DD)")
	accrualsRunPeriodEndCmd.Flags().StringVar(&flagPeriod, "period", "", "Period id")
	accrualsRunPeriodEndCmd.Flags().StringVar(&flagDate, "date", "", "Override as-of date (defaults to the period end)")
	accrualsRunReversalsCmd.Flags().StringVar(&flagPeriod, "period", "", "Target period id")
	accrualsCmd.AddCommand(accrualsRunDueCmd, accrualsRunPeriodEndCmd, accrualsRunReversalsCmd)
}

func withAccrualScope(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime, orgID, actorID uuid.UUID) error) error {
	orgID, err := requireOrg()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	actorID, err := resolveActor(ctx, rt, orgID)
	if err != nil {
		return err
	}
	return fn(ctx, rt, orgID, actorID)
}

func resolveActor(ctx context.Context, rt *runtime, orgID uuid.UUID) (uuid.UUID, error) {
	if flagActor != "" {
		return parseUUIDFlag("actor", flagActor)
	}
	return rt.services.Users.SystemActorID(ctx, orgID)
}

func reportResults(out io.Writer, results []accruals.RunResult) error {
	if flagJSON {
		if err := printJSON(out, results); err != nil {
			return err
		}
	} else {
		printResults(out, results)
	}
	return accruals.FailureError(results)
}

func printResults(out io.Writer, results []accruals.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RULE\tDATE\tSTATUS\tJOURNAL\tNOTE")
	for _, r := range results {
		status := string(r.Status)
		if r.Skipped {
			status = "skipped"
		}
		journal := "-"
		if r.JournalID != nil {
			journal = r.JournalID.String()
		}
		note := r.Reason
		if r.Error != "" {
			note = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.RuleID, r.AsOfDate.Format("2006-01-02"), status, journal, note)
	}
	_ = w.Flush()
}
