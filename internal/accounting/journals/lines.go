package journals

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Totals sums the two sides of a line set.
type Totals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// Balanced reports whether both sides agree to the cent.
func (t Totals) Balanced() bool {
	return shared.Round(t.Debit).Equal(shared.Round(t.Credit))
}

// ValidateLines checks shape and balance of requested lines. Amounts with more
// than two decimal places are rejected rather than rounded.
func ValidateLines(lines []LineInput) (Totals, error) {
	if err := checkLineShape(lines); err != nil {
		return Totals{}, err
	}
	return checkBalance(lines)
}

func checkLineShape(lines []LineInput) error {
	if len(lines) < 2 {
		return shared.ErrTooFewLines
	}
	for idx, line := range lines {
		if line.AccountID == uuid.Nil {
			return fmt.Errorf("%w: line %d missing account", shared.ErrInvalidLine, idx+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d negative amount", shared.ErrInvalidLine, idx+1)
		}
		if !line.Debit.Equal(shared.Round(line.Debit)) || !line.Credit.Equal(shared.Round(line.Credit)) {
			return fmt.Errorf("%w: line %d has more than %d decimal places", shared.ErrInvalidLine, idx+1, shared.Places)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d", shared.ErrInvalidLine, idx+1)
		}
	}
	return nil
}

func checkBalance(lines []LineInput) (Totals, error) {
	totals := Totals{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, line := range lines {
		totals.Debit = totals.Debit.Add(line.Debit)
		totals.Credit = totals.Credit.Add(line.Credit)
	}
	if !totals.Balanced() {
		return totals, fmt.Errorf("%w: debit %s credit %s", shared.ErrUnbalanced, totals.Debit.StringFixed(2), totals.Credit.StringFixed(2))
	}
	return totals, nil
}

func totalsOf(lines []JournalLine) Totals {
	totals := Totals{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, l := range lines {
		totals.Debit = totals.Debit.Add(l.Debit)
		totals.Credit = totals.Credit.Add(l.Credit)
	}
	return totals
}

func accountIDs(lines []JournalLine) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		ids = append(ids, l.AccountID)
	}
	return ids
}

// BalanceDelta is one additive merge into a ledger balance row.
type BalanceDelta struct {
	AccountID uuid.UUID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// balanceDeltas collapses lines per account, ordered by account id so that
// concurrent postings take balance row locks in the same order.
func balanceDeltas(lines []JournalLine) []BalanceDelta {
	byAccount := make(map[uuid.UUID]*BalanceDelta)
	for _, l := range lines {
		d, ok := byAccount[l.AccountID]
		if !ok {
			d = &BalanceDelta{AccountID: l.AccountID, Debit: decimal.Zero, Credit: decimal.Zero}
			byAccount[l.AccountID] = d
		}
		d.Debit = d.Debit.Add(l.Debit)
		d.Credit = d.Credit.Add(l.Credit)
	}
	out := make([]BalanceDelta, 0, len(byAccount))
	for _, d := range byAccount {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccountID.String() < out[j].AccountID.String()
	})
	return out
}

func swapSides(lines []JournalLine, journalID uuid.UUID) []JournalLine {
	out := make([]JournalLine, len(lines))
	for i, l := range lines {
		out[i] = JournalLine{
			ID:          uuid.New(),
			JournalID:   journalID,
			LineNo:      i + 1,
			AccountID:   l.AccountID,
			Description: l.Description,
			Debit:       l.Credit,
			Credit:      l.Debit,
		}
	}
	return out
}
