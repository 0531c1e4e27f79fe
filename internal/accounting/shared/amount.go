package shared

import (
	"time"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places money is stored with.
const Places = 2

// Round normalises an amount to storage precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// SumRounded adds amounts after rounding each one.
func SumRounded(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(Round(a))
	}
	return Round(total)
}

// ParseAmount parses a decimal string and rounds it; empty means zero.
func ParseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, Invalid("accounting: invalid amount " + raw)
	}
	return Round(d), nil
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
