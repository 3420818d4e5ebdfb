// Package money keeps monetary values in fixed-point decimal form. Rounding happens only when an amount
// leaves the process (processor wire, API responses).
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const Scale = 2

// Wire formats an amount with exactly two decimals using banker's rounding.
func Wire(amount decimal.Decimal) string {
	return amount.StringFixedBank(Scale)
}

// Round applies the same banker's rounding as Wire but keeps the decimal type.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundBank(Scale)
}

func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}
