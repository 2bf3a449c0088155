// Package util provides price rounding for order limits and fills.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// CentTick is the minimum price increment for spread orders, in dollars.
const CentTick = 0.01

// RoundToTick rounds x to the nearest tick increment, ties away from zero. The division
// runs in decimal so values such as 1.235 land on 1.24 rather than drifting to 1.23.
// Non-finite inputs and non-positive ticks return x unchanged.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 || math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(tick) || math.IsInf(tick, 0) {
		return x
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(x).Div(t).Round(0).Mul(t).InexactFloat64()
}

// Cents rounds a dollar amount to the nearest cent.
func Cents(x float64) float64 {
	return RoundToTick(x, CentTick)
}
