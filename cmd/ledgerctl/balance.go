package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
)

var flagLocale string

var trialBalanceCmd = &cobra.Command{
	Use:   "trial-balance",
	Short: "Print the trial balance of --period",
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, err := requireOrg()
		if err != nil {
			return err
		}
		periodID, err := parseUUIDFlag("period", flagPeriod)
		if err != nil {
			return err
		}
		tag, err := language.Parse(flagLocale)
		if err != nil {
			return fmt.Errorf("--locale: %w", err)
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		tb, err := rt.services.Ledger.TrialBalance(cmd.Context(), orgID, periodID)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), tb)
		}
		printTrialBalance(cmd.OutOrStdout(), message.NewPrinter(tag), tb)
		return nil
	},
}

func init() {
	trialBalanceCmd.Flags().StringVar(&flagPeriod, "period", "", "Period id")
	trialBalanceCmd.Flags().StringVar(&flagLocale, "locale", "en", "Locale used to format amounts")
}

func printTrialBalance(out io.Writer, p *message.Printer, tb ledger.TrialBalance) {
	const width = 78
	fmt.Fprintf(out, "\nTRIAL BALANCE %s\n", tb.PeriodCode)
	fmt.Fprintln(out, strings.Repeat("=", width))
	fmt.Fprintf(out, "%-10s %-30s %17s %17s\n", "CODE", "NAME", "DEBIT", "CREDIT")
	fmt.Fprintln(out, strings.Repeat("-", width))
	for _, row := range tb.Rows() {
		name := row.Name
		if len(name) > 30 {
			name = name[:28] + ".."
		}
		fmt.Fprintf(out, "%-10s %-30s %17s %17s\n", row.Code, name, formatAmount(p, row.DebitTotal), formatAmount(p, row.CreditTotal))
	}
	fmt.Fprintln(out, strings.Repeat("-", width))
	fmt.Fprintf(out, "%-41s %17s %17s\n", "TOTALS", formatAmount(p, tb.TotalDebit), formatAmount(p, tb.TotalCredit))
	if tb.Balanced {
		fmt.Fprintln(out, "\n  [BALANCED]")
	} else {
		fmt.Fprintln(out, "\n  [UNBALANCED]")
	}
}

// formatAmount groups digits per locale. Amounts carry two decimals so the
// float conversion is exact enough for display.
func formatAmount(p *message.Printer, d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return p.Sprintf("%.2f", d.InexactFloat64())
}
