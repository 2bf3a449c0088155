// Package structure classifies butterfly shapes and breaks them into vertical pairings.
package structure

import (
	"math"
	"sort"

	"github.com/eddiefleurent/flyexit/internal/models"
)

// StructureType is the recognized shape of a fly.
type StructureType string

const (
	Unknown     StructureType = "UNKNOWN"
	UBFly       StructureType = "UBFLY"
	BalancedFly StructureType = "BALANCED_FLY"
)

// ratioTolerance is how far, in contracts, a wing count may drift from the ideal ratio.
const ratioTolerance = 0.5

// StrikeKind keys the leg map.
type StrikeKind struct {
	Kind   models.OptionKind
	Strike float64
}

// LegCount is the long and short contract count at one strike and kind.
type LegCount struct {
	Long  int
	Short int
}

// StructureInfo describes a classified fly. Strikes and width are zero for Unknown.
type StructureInfo struct {
	LegMap map[StrikeKind]LegCount
	Type   StructureType
	KLow   float64
	KBody  float64
	KHigh  float64
	Width  float64 // KBody - KLow
}

// IsKnown reports whether the position matched a supported shape.
func (s StructureInfo) IsKnown() bool {
	return s.Type == UBFly || s.Type == BalancedFly
}

// Classify inspects the position's net contract counts at its three lowest strikes and
// decides whether it is a balanced fly (1:2:1) or a broken-wing fly (1:3:2 or 2:3:1).
func Classify(pos *models.ButterflyPosition) StructureInfo {
	if pos == nil || pos.NumLegs() == 0 {
		return StructureInfo{Type: Unknown}
	}

	legMap := make(map[StrikeKind]LegCount)
	for _, leg := range pos.Legs() {
		key := StrikeKind{Strike: models.NormalizeStrike(leg.Strike), Kind: leg.Kind}
		c := legMap[key]
		if leg.IsLong() {
			c.Long += leg.Quantity
		} else {
			c.Short += leg.Quantity
		}
		legMap[key] = c
	}

	strikes := distinctStrikes(legMap)
	if len(strikes) < 3 {
		return StructureInfo{Type: Unknown, LegMap: legMap}
	}

	info := StructureInfo{
		Type:   Unknown,
		LegMap: legMap,
		KLow:   strikes[0],
		KBody:  strikes[1],
		KHigh:  strikes[2],
		Width:  strikes[1] - strikes[0],
	}

	netLow := netAt(legMap, info.KLow)
	netBody := netAt(legMap, info.KBody)
	netHigh := netAt(legMap, info.KHigh)

	if netBody >= 0 {
		return info
	}
	body := math.Abs(netBody)

	switch {
	case near(netHigh, body/3) && near(netLow, body*2/3):
		// put-style: +1 high, -3 body, +2 low
		info.Type = UBFly
	case near(netHigh, body*2/3) && near(netLow, body/3):
		// call-style: +2 high, -3 body, +1 low
		info.Type = UBFly
	case near(netLow, body/2) && near(netHigh, body/2):
		info.Type = BalancedFly
	}
	return info
}

// distinctStrikes returns the sorted strikes of legMap. Its keys are already normalized.
func distinctStrikes(legMap map[StrikeKind]LegCount) []float64 {
	seen := make(map[float64]struct{}, len(legMap))
	strikes := make([]float64, 0, len(legMap))
	for k := range legMap {
		if _, ok := seen[k.Strike]; ok {
			continue
		}
		seen[k.Strike] = struct{}{}
		strikes = append(strikes, k.Strike)
	}
	sort.Float64s(strikes)
	return strikes
}

// netAt sums long minus short across both kinds at a strike.
func netAt(legMap map[StrikeKind]LegCount, strike float64) float64 {
	net := 0
	for _, kind := range []models.OptionKind{models.KindCall, models.KindPut} {
		c := legMap[StrikeKind{Strike: strike, Kind: kind}]
		net += c.Long - c.Short
	}
	return float64(net)
}

func near(got, want float64) bool {
	return math.Abs(got-want) < ratioTolerance
}
