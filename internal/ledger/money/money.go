// Package money centralises decimal arithmetic for ledger amounts.
// Amounts are shopspring decimals, rounded half-up to the currency's
// minor unit at every point a derived value is computed.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MinorUnits returns the number of decimal digits for an ISO 4217 code.
// Unknown codes are rejected rather than defaulted.
func MinorUnits(code string) (int32, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("money: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// RoundHalfUp rounds v to exp digits with ties away from zero, the
// convention used for every derived ledger amount.
func RoundHalfUp(v decimal.Decimal, exp int32) decimal.Decimal {
	return v.Round(exp)
}

// Equal reports exact equality after rounding both sides to exp digits.
func Equal(a, b decimal.Decimal, exp int32) bool {
	return RoundHalfUp(a, exp).Equal(RoundHalfUp(b, exp))
}

// Parse converts a string amount into a decimal, rejecting malformed input.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// MustParse is a test helper for literal amounts.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}
