package ledger

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// BuildTrialBalance groups account balances by code prefix and sums both
// sides. Balanced is true when total debits equal total credits.
func BuildTrialBalance(orgID, periodID uuid.UUID, periodCode string, balances []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, acc := range balances {
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key, DebitTotal: decimal.Zero, CreditTotal: decimal.Zero}
			groups[key] = grp
			keys = append(keys, key)
		}
		grp.Rows = append(grp.Rows, TrialBalanceRow{
			AccountID:     acc.AccountID,
			Code:          acc.Code,
			Name:          acc.Name,
			Type:          acc.Type,
			NormalBalance: acc.NormalBalance,
			DebitTotal:    acc.DebitTotal,
			CreditTotal:   acc.CreditTotal,
			Net:           acc.Net(),
		})
		grp.DebitTotal = grp.DebitTotal.Add(acc.DebitTotal)
		grp.CreditTotal = grp.CreditTotal.Add(acc.CreditTotal)
	}

	sort.Strings(keys)
	result := TrialBalance{
		OrganizationID: orgID,
		PeriodID:       periodID,
		PeriodCode:     periodCode,
		Groups:         make([]TrialBalanceGroup, 0, len(keys)),
		TotalDebit:     decimal.Zero,
		TotalCredit:    decimal.Zero,
	}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Rows, func(i, j int) bool {
			return grp.Rows[i].Code < grp.Rows[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.DebitTotal)
		result.TotalCredit = result.TotalCredit.Add(grp.CreditTotal)
	}
	result.Balanced = shared.Round(result.TotalDebit).Equal(shared.Round(result.TotalCredit))
	return result
}
