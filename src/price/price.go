package price

import (
	"math"

	"github.com/shopspring/decimal"
)

// Price is an exact fixed-point price with two fractional digits, stored in cents.
// Two wire prices that round to the same cent compare equal.
type Price int64

const fractionalDigits = 2

// FromFloat rounds a wire price to the nearest cent (half away from zero).
func FromFloat(f float64) Price {
	// edge case: decimal panics on NaN/Inf, treat them as zero
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return FromDecimal(decimal.NewFromFloat(f))
}

// FromDecimal rounds an exact decimal to the nearest cent (half away from zero).
func FromDecimal(d decimal.Decimal) Price {
	return Price(d.Shift(fractionalDigits).Round(0).IntPart())
}

func (p Price) Cents() int64 {
	return int64(p)
}

func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -fractionalDigits)
}

func (p Price) Float64() float64 {
	f, _ := p.Decimal().Float64()
	return f
}

func (p Price) String() string {
	return p.Decimal().StringFixed(fractionalDigits)
}
