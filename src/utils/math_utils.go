package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDecimal parses an exact decimal amount from report input, tolerating
// thousands separators. Amounts are never run through float64.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty decimal value")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value %q: %w", s, err)
	}
	return d, nil
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
