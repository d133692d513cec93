// Package core holds the ledger domain: transactions, day records, monthly
// ledgers and the year-month arithmetic the projection chain depends on.
//
// Monetary values are shopspring decimals rounded to two places at every
// derived step, never only at the output boundary. Rounding early keeps
// long chains of months free of accumulation drift.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPrecision is the number of decimal places every monetary value is
// rounded to at the point it is computed.
const MoneyPrecision = 2

// Round normalizes a monetary value to two decimal places (half away
// from zero).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPrecision)
}

// ParseAmount parses a monetary amount from a string, accepting both dot
// and comma decimal separators. The sign is preserved; the result is
// rounded to two places.
//
//	ParseAmount("12.345") -> 12.35
//	ParseAmount("-12,34") -> -12.34
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return Round(d), nil
}
