// Package fixed provides scale-8 fixed-point arithmetic for all monetary
// and quantity values. Multiplication truncates toward zero at 8 fractional
// digits; values never pass through binary floating point.
package fixed

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every value.
const Scale = 8

// CommissionRate is the buyer-side fee (1.5%) applied to the notional.
var CommissionRate = decimal.New(15, -3)

// Zero is the scale-8 zero value.
var Zero = decimal.Zero

// Parse converts a decimal string into a value. Malformed input is the only
// failure mode.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// Mul multiplies two values and truncates the result to scale 8.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(Scale)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Notional returns price × amount at scale 8.
func Notional(price, amount decimal.Decimal) decimal.Decimal {
	return Mul(price, amount)
}

// Commission returns the buyer fee on a notional at scale 8.
func Commission(notional decimal.Decimal) decimal.Decimal {
	return Mul(notional, CommissionRate)
}

// String renders a value with exactly 8 fractional digits, the wire format
// for every money and quantity field.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
