// Package money holds the amount arithmetic shared by the terminal and the
// backend. Amounts travel as decimal major units ("5.00") and are charged in
// integer minor units.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrBelowMinimum  = errors.New("amount below minimum")
)

var (
	// Minimum is the smallest chargeable amount in major units.
	Minimum = decimal.NewFromInt(1)
	// Maximum is the largest amount whose minor units fit in an int64.
	Maximum = FromMinor(math.MaxInt64)

	feeRate  = decimal.RequireFromString("0.019")
	feeFixed = decimal.NewFromInt(20)
)

// Parse reads a major-unit amount. At most two decimal places are accepted.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return decimal.Zero, fmt.Errorf("%w: %q has more than two decimal places", ErrInvalidAmount, s)
	}
	if d.Round(2).GreaterThan(Maximum) {
		return decimal.Zero, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, s)
	}
	return d, nil
}

// Validate rejects amounts under Minimum and amounts ToMinor cannot
// represent.
func Validate(amount decimal.Decimal) error {
	if amount.LessThan(Minimum) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount.StringFixed(2), Minimum.StringFixed(2))
	}
	if amount.Round(2).GreaterThan(Maximum) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, amount.StringFixed(2), Maximum.StringFixed(2))
	}
	return nil
}

// ToMinor converts major units to minor units (pence, cents).
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinor converts minor units back to major units.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ApplicationFee is the platform cut: ceil(minor * 0.019 + 20).
func ApplicationFee(minor int64) int64 {
	return decimal.NewFromInt(minor).Mul(feeRate).Add(feeFixed).Ceil().IntPart()
}

// Format renders minor units the way the payments list shows them.
func Format(minor int64) string {
	return FromMinor(minor).StringFixed(2)
}
