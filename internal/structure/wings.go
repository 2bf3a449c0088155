package structure

import (
	"github.com/eddiefleurent/flyexit/internal/models"
)

// WingExits closes the long legs the body collapse left over. A remaining wing is sold
// when its mark is at least threshold or when expiry is a day or less away.
func WingExits(pos *models.ButterflyPosition, consumed map[int]int, threshold float64, dte int) []models.ExitLeg {
	if pos == nil {
		return nil
	}
	var out []models.ExitLeg
	for i, leg := range pos.Legs() {
		if !leg.IsLong() {
			continue
		}
		remaining := leg.Quantity - consumed[i]
		if remaining <= 0 {
			continue
		}
		if leg.Mark() >= threshold || dte <= 1 {
			out = append(out, models.ExitLeg{
				LegIndex: i,
				Contract: leg,
				Quantity: remaining,
				Side:     models.SellToClose,
			})
		}
	}
	return out
}
