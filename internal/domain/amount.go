package domain

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	// MaxAmountScale is the finest fractional precision accepted from callers.
	MaxAmountScale = 18
	// MaxAmountIntegerDigits bounds the magnitude of accepted amounts.
	MaxAmountIntegerDigits = 30
)

// ParseAmount parses a user supplied amount. Empty, malformed, NaN and infinite values are
// rejected with ErrInvalidInput, as are amounts finer than MaxAmountScale or wider than
// MaxAmountIntegerDigits.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.Wrap(ErrInvalidInput, "empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidInput, "amount %q is not a number", s)
	}
	if d.IsZero() {
		// drops any exponent carried by inputs like 0e-9999
		return decimal.Zero, nil
	}
	if err := checkAmountBounds(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// checkAmountBounds looks only at the exponent and coefficient length, so it never rescales.
func checkAmountBounds(d decimal.Decimal) error {
	if d.IsZero() {
		return nil
	}
	exp := int64(d.Exponent())
	if exp < -MaxAmountScale {
		return errors.Wrapf(ErrInvalidInput, "amount has more than %d fractional digits", MaxAmountScale)
	}
	if int64(d.NumDigits())+exp > MaxAmountIntegerDigits {
		return errors.Wrapf(ErrInvalidInput, "amount has more than %d integer digits", MaxAmountIntegerDigits)
	}
	return nil
}

// AmountFromFloat converts a float amount, rejecting NaN and infinities.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, errors.Wrapf(ErrInvalidInput, "amount %v is not finite", f)
	}
	d := decimal.NewFromFloat(f)
	if err := checkAmountBounds(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidPrice reports whether p is usable as a price.
func ValidPrice(p decimal.Decimal) bool {
	return p.GreaterThan(decimal.Zero)
}
