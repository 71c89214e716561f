package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amounts cross the API as decimal strings and live internally as int64 minor
// units. Conversion happens exactly once, at the ingress boundary, and must be
// exact: no binary floating point is ever involved.

var (
	ErrMalformedAmount = errors.New("malformed amount")
	ErrScaleExceeded   = errors.New("amount has more decimal places than the currency allows")
	ErrAmountTooLarge  = errors.New("amount exceeds representable range")
	ErrUnknownCurrency = errors.New("unknown currency")
)

// Scales maps a currency code to the number of decimal places of its smallest
// unit. It is loaded from config and passed into components at construction.
type Scales map[string]uint8

func (s Scales) Scale(currency string) (uint8, error) {
	scale, ok := s[currency]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return scale, nil
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ToMinorUnits converts a decimal string into minor units at the given scale.
// "10.50" at scale 2 becomes 1050. The conversion rejects malformed strings,
// fractional digits beyond the scale, and values outside the int64 range.
func ToMinorUnits(amount string, scale uint8) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, amount)
	}

	shifted := d.Shift(int32(scale))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %q at scale %d", ErrScaleExceeded, amount, scale)
	}
	if shifted.Abs().Cmp(maxMinor) > 0 {
		return 0, fmt.Errorf("%w: %q", ErrAmountTooLarge, amount)
	}

	return shifted.IntPart(), nil
}

// FromMinorUnits renders minor units back to the canonical decimal string at
// the given scale. 1050 at scale 2 becomes "10.50".
func FromMinorUnits(v int64, scale uint8) string {
	return decimal.New(v, -int32(scale)).StringFixed(int32(scale))
}
