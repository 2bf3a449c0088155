package models

import (
	"fmt"
	"math"
	"strconv"
)

// SpreadType marks whether a vertical was bought (debit) or sold (credit).
type SpreadType string

const (
	SpreadDebit  SpreadType = "debit"
	SpreadCredit SpreadType = "credit"
)

// VerticalSpread is one long and one short leg at different strikes, same kind and expiry.
// It lives for a single exit attempt and is never persisted.
type VerticalSpread struct {
	Long           OptionLeg  `json:"long"`
	Short          OptionLeg  `json:"short"`
	Type           SpreadType `json:"type"`
	Quantity       int        `json:"quantity"`
	EstimatedValue float64    `json:"estimated_value"` // dollars, multiplier-adjusted
}

// NewVerticalSpread pairs a long and short leg. The spread type is derived from which
// side holds the more valuable strike.
func NewVerticalSpread(long, short OptionLeg, qty int) VerticalSpread {
	return VerticalSpread{
		Long:     long,
		Short:    short,
		Quantity: qty,
		Type:     spreadTypeFor(long, short),
	}
}

// spreadTypeFor returns debit when the long leg is the one closer to the money: the lower
// strike for calls and the higher strike for puts.
func spreadTypeFor(long, short OptionLeg) SpreadType {
	if long.Kind == KindCall {
		if long.Strike < short.Strike {
			return SpreadDebit
		}
		return SpreadCredit
	}
	if long.Strike > short.Strike {
		return SpreadDebit
	}
	return SpreadCredit
}

// Width is the strike distance between the two legs.
func (v VerticalSpread) Width() float64 {
	return math.Abs(v.Long.Strike - v.Short.Strike)
}

// HasMids reports whether both legs carry a refreshed mid.
func (v VerticalSpread) HasMids() bool {
	return v.Long.Mid != nil && v.Short.Mid != nil
}

// HasQuotes reports whether both legs carry a full bid/ask/mid quote.
func (v VerticalSpread) HasQuotes() bool {
	return v.Long.HasQuote() && v.Short.HasQuote()
}

// TheoMid is |long mid - short mid| * 100 * quantity. Callers check HasMids first.
func (v VerticalSpread) TheoMid() float64 {
	if !v.HasMids() {
		return 0
	}
	return math.Abs(*v.Long.Mid-*v.Short.Mid) * ContractMultiplier * float64(v.Quantity)
}

func (v VerticalSpread) String() string {
	lo, hi := v.Long.Strike, v.Short.Strike
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("%s %s/%s x%d", v.Type, strconv.FormatFloat(lo, 'f', -1, 64),
		strconv.FormatFloat(hi, 'f', -1, 64), v.Quantity)
}

// ExitSide is the closing action on a leg.
type ExitSide string

const (
	BuyToClose  ExitSide = "BUY_TO_CLOSE"
	SellToClose ExitSide = "SELL_TO_CLOSE"
)

// ExitLeg is an instruction to close part or all of one position leg.
type ExitLeg struct {
	Contract OptionLeg `json:"contract"`
	Side     ExitSide  `json:"side"`
	LegIndex int       `json:"leg_index"` // index into the position's legs
	Quantity int       `json:"quantity"`
}

// TimeInForceDay is the only time in force exits use.
const TimeInForceDay = "DAY"

// OrderSpec groups exit legs into one logical, tagged order.
type OrderSpec struct {
	Tag         string    `json:"tag"`
	TimeInForce string    `json:"time_in_force"`
	Legs        []ExitLeg `json:"legs"`
}

// TotalQuantity sums contracts across legs on the given side.
func (o OrderSpec) TotalQuantity(side ExitSide) int {
	n := 0
	for _, l := range o.Legs {
		if l.Side == side {
			n += l.Quantity
		}
	}
	return n
}
