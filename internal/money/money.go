// Package money converts between decimal amounts and the integer minor units
// the ledger store persists.
package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept in storage.
const Scale = 2

var (
	ErrPrecision = errors.New("amount has more than 2 fractional digits")
	ErrRange     = errors.New("amount out of range")

	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ToMinor returns d in minor units. It never rounds.
func ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrPrecision
	}
	if shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return 0, ErrRange
	}
	return shifted.IntPart(), nil
}

// FromMinor converts stored minor units back to a decimal amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -Scale)
}
