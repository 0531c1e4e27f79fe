package ledger

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// StatementLine is one account on a financial statement, signed so that the
// account's normal balance is positive.
type StatementLine struct {
	AccountID uuid.UUID       `json:"accountId"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
}

// StatementSection groups lines of one account type.
type StatementSection struct {
	Label string          `json:"label"`
	Lines []StatementLine `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// ProfitAndLoss is the period's revenue and expense activity.
type ProfitAndLoss struct {
	PeriodID   uuid.UUID        `json:"periodId"`
	PeriodCode string           `json:"periodCode"`
	Revenue    StatementSection `json:"revenue"`
	Expense    StatementSection `json:"expense"`
	NetIncome  decimal.Decimal  `json:"netIncome"`
}

// BuildProfitAndLoss aggregates revenue and expense balances. Accounts with
// no activity are left out.
func BuildProfitAndLoss(periodID uuid.UUID, periodCode string, balances []AccountBalance) ProfitAndLoss {
	revenue := StatementSection{Label: "Revenue", Lines: []StatementLine{}, Total: decimal.Zero}
	expense := StatementSection{Label: "Expense", Lines: []StatementLine{}, Total: decimal.Zero}

	for _, acc := range balances {
		if acc.DebitTotal.IsZero() && acc.CreditTotal.IsZero() {
			continue
		}
		line := StatementLine{AccountID: acc.AccountID, Code: acc.Code, Name: acc.Name}
		switch acc.Type {
		case accounts.AccountTypeRevenue:
			line.Amount = acc.CreditTotal.Sub(acc.DebitTotal)
			revenue.Lines = append(revenue.Lines, line)
			revenue.Total = revenue.Total.Add(line.Amount)
		case accounts.AccountTypeExpense:
			line.Amount = acc.Net()
			expense.Lines = append(expense.Lines, line)
			expense.Total = expense.Total.Add(line.Amount)
		}
	}

	sort.Slice(revenue.Lines, func(i, j int) bool { return revenue.Lines[i].Code < revenue.Lines[j].Code })
	sort.Slice(expense.Lines, func(i, j int) bool { return expense.Lines[i].Code < expense.Lines[j].Code })

	return ProfitAndLoss{
		PeriodID:   periodID,
		PeriodCode: periodCode,
		Revenue:    revenue,
		Expense:    expense,
		NetIncome:  revenue.Total.Sub(expense.Total),
	}
}
