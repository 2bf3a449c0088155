// Package mock provides synthetic butterflies and market snapshots for simulations and tests.
package mock

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/util"
)

// Sample is one synthetic fly with the market it is exited into.
type Sample struct {
	Position   *models.ButterflyPosition
	Snapshot   models.MarketSnapshot
	Underlying float64
}

// Generator produces balanced call flies near the money. It is deterministic for a seed
// apart from position IDs.
type Generator struct {
	now       time.Time
	rng       *rand.Rand
	symbol    string
	basePrice float64
	width     float64
}

// NewGenerator seeds a generator for SPY flies around 450.
func NewGenerator(seed int64, now time.Time) *Generator {
	return &Generator{
		rng:       rand.New(rand.NewSource(seed)),
		now:       now,
		symbol:    "SPY",
		basePrice: 450,
		width:     5,
	}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// Sample builds the next synthetic fly: 1x2x1 calls at ATM-W/ATM/ATM+W expiring in a
// week, with a debit of $50-150 and quotes 1-3% wide around the current mids.
func (g *Generator) Sample() (Sample, error) {
	atm := math.Round(g.basePrice/g.width) * g.width
	underlying := util.Cents(g.basePrice + g.uniform(-2, 2))
	expiry := time.Date(g.now.Year(), g.now.Month(), g.now.Day(), 16, 0, 0, 0, g.now.Location()).AddDate(0, 0, 7)

	lowMid := util.Cents(g.uniform(3, 5))
	bodyMid := util.Cents(math.Max(lowMid-g.uniform(0.5, 1.5), 0.1))
	highMid := util.Cents(math.Max(bodyMid-g.uniform(0.5, 1.5), 0.05))

	mids := map[float64]float64{atm - g.width: lowMid, atm: bodyMid, atm + g.width: highMid}
	legs := []models.OptionLeg{
		g.leg(models.SideLong, atm-g.width, 1, lowMid, expiry),
		g.leg(models.SideShort, atm, 2, bodyMid, expiry),
		g.leg(models.SideLong, atm+g.width, 1, highMid, expiry),
	}

	pos, err := models.NewButterflyPosition(uuid.NewString(), g.symbol, legs,
		util.Cents(g.uniform(50, 150)), g.now.AddDate(0, 0, -3), &underlying)
	if err != nil {
		return Sample{}, fmt.Errorf("synthetic fly: %w", err)
	}

	snap := make(models.MarketSnapshot, len(mids))
	for strike, mid := range mids {
		snap[models.LegKey(models.KindCall, strike)] = g.quote(mid)
	}
	return Sample{Position: pos, Snapshot: snap, Underlying: underlying}, nil
}

// Samples builds n flies.
func (g *Generator) Samples(n int) ([]Sample, error) {
	out := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		s, err := g.Sample()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (g *Generator) leg(side models.Side, strike float64, qty int, premium float64, expiry time.Time) models.OptionLeg {
	return models.OptionLeg{
		Kind:         models.KindCall,
		Side:         side,
		Strike:       strike,
		Quantity:     qty,
		Expiry:       expiry,
		EntryPremium: premium,
	}
}

// quote spreads a mid 1-3% wide.
func (g *Generator) quote(mid float64) models.Quote {
	half := mid * g.uniform(0.01, 0.03) / 2
	return models.Quote{
		Bid: util.Cents(mid - half),
		Ask: util.Cents(mid + half),
		Mid: mid,
	}
}
