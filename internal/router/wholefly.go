package router

import (
	"math"
	"math/rand"

	"github.com/google/uuid"

	"github.com/eddiefleurent/flyexit/internal/models"
)

// Whole-fly fill model: one multi-leg order at mid less a haircut, slower than verticals.
const (
	wholeFlyMinHaircut   = 0.03
	wholeFlyMaxHaircut   = 0.05
	wholeFlyMinLatencyMs = 200.0
	wholeFlyMaxLatencyMs = 800.0
)

// SimulateWholeFly prices closing pos as a single butterfly order, for comparison with the
// split-vertical exit. Marks come from snapshot where quoted, otherwise from the legs.
func SimulateWholeFly(pos *models.ButterflyPosition, snapshot models.MarketSnapshot, rng *rand.Rand) *models.ExitResult {
	result := &models.ExitResult{
		AttemptID:  uuid.NewString(),
		ExitMethod: models.ExitMethodWholeFly,
	}
	if pos == nil {
		result.ErrorMessage = "position is required"
		return result
	}
	result.PositionID = pos.ID()
	result.EntryCost = pos.NetDebit()

	flyMid := 0.0
	for _, leg := range pos.Legs() {
		if q, ok := snapshot[leg.Key()]; ok {
			leg = leg.WithQuote(q)
		}
		v := leg.Mark() * float64(leg.Quantity)
		if !leg.IsLong() {
			v = -v
		}
		flyMid += v
	}
	flyMid = math.Abs(flyMid) * models.ContractMultiplier

	haircut := wholeFlyMinHaircut + rng.Float64()*(wholeFlyMaxHaircut-wholeFlyMinHaircut)
	result.ExitProceeds = flyMid * (1 - haircut)
	result.RealizedPnL = result.ExitProceeds - pos.NetDebit()
	result.TotalSlippage = flyMid * haircut
	if flyMid != 0 {
		result.SlippageVsMid = haircut * 100
	}
	result.TotalLatencyMs = wholeFlyMinLatencyMs + rng.Float64()*(wholeFlyMaxLatencyMs-wholeFlyMinLatencyMs)
	result.Success = true
	return result
}
