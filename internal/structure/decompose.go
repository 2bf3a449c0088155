package structure

import (
	"fmt"

	"github.com/eddiefleurent/flyexit/internal/models"
)

// Pairing is one short body contract matched with one long wing contract.
// Both fields are indices into the position's legs.
type Pairing struct {
	ShortLeg int
	LongLeg  int
}

// Decomposition is the body collapse of a fly into unit verticals.
type Decomposition struct {
	Consumed map[int]int // leg index -> contracts used by pairings
	Legs     []models.ExitLeg
	Pairs    []Pairing
	pos      *models.ButterflyPosition
}

// ShortsClosed counts BUY_TO_CLOSE contracts across the decomposition.
func (d Decomposition) ShortsClosed() int {
	n := 0
	for _, l := range d.Legs {
		if l.Side == models.BuyToClose {
			n += l.Quantity
		}
	}
	return n
}

// Verticals aggregates unit pairings into vertical spreads, one per distinct
// (short leg, long leg) combination, in first-seen order.
func (d Decomposition) Verticals() []models.VerticalSpread {
	if d.pos == nil {
		return nil
	}
	order := make([]Pairing, 0, len(d.Pairs))
	counts := make(map[Pairing]int, len(d.Pairs))
	for _, p := range d.Pairs {
		if counts[p] == 0 {
			order = append(order, p)
		}
		counts[p]++
	}

	out := make([]models.VerticalSpread, 0, len(order))
	for _, p := range order {
		out = append(out, models.NewVerticalSpread(d.pos.Leg(p.LongLeg), d.pos.Leg(p.ShortLeg), counts[p]))
	}
	return out
}

// unitSlots expands matching legs into one entry per contract, each holding its leg index.
func unitSlots(pos *models.ButterflyPosition, strike float64, long bool) []int {
	var slots []int
	for i, leg := range pos.Legs() {
		if leg.IsLong() != long || !models.SameStrike(leg.Strike, strike) {
			continue
		}
		for q := 0; q < leg.Quantity; q++ {
			slots = append(slots, i)
		}
	}
	return slots
}

type pairer struct {
	pos      *models.ButterflyPosition
	shorts   []int
	lows     []int
	highs    []int
	paired   []bool
	lowNext  int
	highNext int
	out      Decomposition
}

func newPairer(pos *models.ButterflyPosition, info StructureInfo) *pairer {
	p := &pairer{
		pos:    pos,
		shorts: unitSlots(pos, info.KBody, false),
		lows:   unitSlots(pos, info.KLow, true),
		highs:  unitSlots(pos, info.KHigh, true),
		out: Decomposition{
			Consumed: make(map[int]int),
			pos:      pos,
		},
	}
	p.paired = make([]bool, len(p.shorts))
	return p
}

func (p *pairer) pairLow(unit int) bool {
	if p.lowNext >= len(p.lows) {
		return false
	}
	p.emit(unit, p.lows[p.lowNext])
	p.lowNext++
	return true
}

func (p *pairer) pairHigh(unit int) bool {
	if p.highNext >= len(p.highs) {
		return false
	}
	p.emit(unit, p.highs[p.highNext])
	p.highNext++
	return true
}

func (p *pairer) emit(unit, longLeg int) {
	shortLeg := p.shorts[unit]
	p.out.Legs = append(p.out.Legs,
		models.ExitLeg{LegIndex: shortLeg, Contract: p.pos.Leg(shortLeg), Quantity: 1, Side: models.BuyToClose},
		models.ExitLeg{LegIndex: longLeg, Contract: p.pos.Leg(longLeg), Quantity: 1, Side: models.SellToClose},
	)
	p.out.Pairs = append(p.out.Pairs, Pairing{ShortLeg: shortLeg, LongLeg: longLeg})
	p.out.Consumed[shortLeg]++
	p.out.Consumed[longLeg]++
	p.paired[unit] = true
}

// reconcile pairs any short unit the primary pass skipped, low wing first.
func (p *pairer) reconcile() error {
	for unit := range p.shorts {
		if p.paired[unit] {
			continue
		}
		if p.pairLow(unit) || p.pairHigh(unit) {
			continue
		}
		return &StructuralError{
			PositionID: p.pos.ID(),
			Shorts:     len(p.shorts),
			Paired:     p.pairedCount(),
			LowWings:   len(p.lows),
			HighWings:  len(p.highs),
		}
	}
	return nil
}

func (p *pairer) pairedCount() int {
	n := 0
	for _, ok := range p.paired {
		if ok {
			n++
		}
	}
	return n
}

// Decompose collapses every short body contract into a unit vertical against a long wing.
// The result either pairs all shorts or returns a *StructuralError; shorts are never dropped.
func Decompose(pos *models.ButterflyPosition, info StructureInfo) (Decomposition, error) {
	if pos == nil || !info.IsKnown() {
		return Decomposition{}, ErrUnknownStructure
	}

	p := newPairer(pos, info)
	switch info.Type {
	case BalancedFly:
		p.pairBalanced()
	case UBFly:
		p.pairUnbalanced()
	default:
		return Decomposition{}, fmt.Errorf("%w: %s", ErrUnknownStructure, info.Type)
	}

	if err := p.reconcile(); err != nil {
		return Decomposition{}, err
	}
	return p.out, nil
}

// pairBalanced sends the first half of the shorts to the low wing and the rest high.
func (p *pairer) pairBalanced() {
	toLow := len(p.shorts) / 2
	if toLow > len(p.lows) {
		toLow = len(p.lows)
	}
	for unit := 0; unit < toLow; unit++ {
		p.pairLow(unit)
	}
	for unit := toLow; unit < len(p.shorts); unit++ {
		p.pairHigh(unit)
	}
}

// pairUnbalanced keeps the 2:1 wing ratio by sending every third short to the smaller wing.
func (p *pairer) pairUnbalanced() {
	lowHeavy := len(p.lows) >= len(p.highs)
	for unit := range p.shorts {
		if lowHeavy {
			if (unit+1)%3 == 0 {
				p.pairHigh(unit)
			} else {
				p.pairLow(unit)
			}
			continue
		}
		if (unit+1)%3 == 1 {
			p.pairLow(unit)
		} else {
			p.pairHigh(unit)
		}
	}
}
