package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick_SpreadPrices(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		tick  float64
		want  float64
	}{
		{"limit off theo mid", 350 * 0.98, CentTick, 343},
		{"half cent fill rounds up", 612.345, CentTick, 612.35},
		{"sub half cent fill rounds down", 245.004999, CentTick, 245},
		{"losing P&L tie goes away from zero", -12.345, CentTick, -12.35},
		{"nickel tick", 2.37, 0.05, 2.35},
		{"nickel tick tie", 2.375, 0.05, 2.4},
		{"dollar tick", 149.5, 1, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoundToTick(tt.price, tt.tick))
		})
	}
}

func TestCents_ExactResults(t *testing.T) {
	// float sums that would otherwise leak residue into ledger totals
	assert.Equal(t, 0.3, Cents(0.1+0.2))
	assert.Equal(t, 343.0, Cents(343.0000000001))
	assert.Equal(t, 640.0, Cents(500.004+139.996))
}

func TestRoundToTick_PassThrough(t *testing.T) {
	assert.Equal(t, 7.777, RoundToTick(7.777, 0))
	assert.Equal(t, 7.777, RoundToTick(7.777, -0.05))
	assert.Equal(t, 7.777, RoundToTick(7.777, math.NaN()))
	assert.True(t, math.IsNaN(RoundToTick(math.NaN(), CentTick)))
	assert.True(t, math.IsInf(RoundToTick(math.Inf(1), CentTick), 1))
	assert.True(t, math.IsInf(RoundToTick(math.Inf(-1), CentTick), -1))
}
