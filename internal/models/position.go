package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidPosition is returned when a butterfly position fails validation.
var ErrInvalidPosition = errors.New("invalid butterfly position")

// ButterflyPosition is a butterfly or broken-wing butterfly. It is immutable after
// construction: accessors hand out copies.
type ButterflyPosition struct {
	entryTime       time.Time
	underlyingPrice *float64
	id              string
	symbol          string
	legs            []OptionLeg
	netDebit        float64
}

// NewButterflyPosition validates and builds a position. netDebit is the dollar entry cost
// and is stored as its absolute value.
func NewButterflyPosition(id, symbol string, legs []OptionLeg, netDebit float64,
	entryTime time.Time, underlyingPrice *float64) (*ButterflyPosition, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidPosition)
	}
	if len(legs) < 3 {
		return nil, fmt.Errorf("%w: position %s needs at least 3 legs (got %d)", ErrInvalidPosition, id, len(legs))
	}
	if netDebit < 0 {
		netDebit = -netDebit
	}

	expiry := legs[0].Expiry
	kind := legs[0].Kind
	for i, leg := range legs {
		if err := leg.validate(); err != nil {
			return nil, fmt.Errorf("%w: position %s leg %d: %v", ErrInvalidPosition, id, i, err)
		}
		if !leg.Expiry.Equal(expiry) {
			return nil, fmt.Errorf("%w: position %s leg %d expiry %s differs from %s",
				ErrInvalidPosition, id, i, leg.Expiry.Format(time.RFC3339), expiry.Format(time.RFC3339))
		}
		if leg.Kind != kind {
			return nil, fmt.Errorf("%w: position %s mixes %s and %s legs", ErrInvalidPosition, id, kind, leg.Kind)
		}
	}

	p := &ButterflyPosition{
		id:        id,
		symbol:    symbol,
		legs:      copyLegs(legs),
		netDebit:  netDebit,
		entryTime: entryTime,
	}
	if underlyingPrice != nil {
		px := *underlyingPrice
		p.underlyingPrice = &px
	}
	return p, nil
}

func copyLegs(legs []OptionLeg) []OptionLeg {
	out := make([]OptionLeg, len(legs))
	for i, l := range legs {
		out[i] = l
		if l.Bid != nil {
			v := *l.Bid
			out[i].Bid = &v
		}
		if l.Ask != nil {
			v := *l.Ask
			out[i].Ask = &v
		}
		if l.Mid != nil {
			v := *l.Mid
			out[i].Mid = &v
		}
	}
	return out
}

// ID returns the unique position identifier.
func (p *ButterflyPosition) ID() string { return p.id }

// Symbol returns the underlying symbol.
func (p *ButterflyPosition) Symbol() string { return p.symbol }

// NetDebit returns the dollar entry cost (always >= 0).
func (p *ButterflyPosition) NetDebit() float64 { return p.netDebit }

// EntryTime returns when the position was opened.
func (p *ButterflyPosition) EntryTime() time.Time { return p.entryTime }

// Legs returns a copy of the position's legs in their original order.
func (p *ButterflyPosition) Legs() []OptionLeg { return copyLegs(p.legs) }

// Leg returns a copy of the leg at index i.
func (p *ButterflyPosition) Leg(i int) OptionLeg { return copyLegs(p.legs[i : i+1])[0] }

// NumLegs returns the number of legs.
func (p *ButterflyPosition) NumLegs() int { return len(p.legs) }

// Kind returns the option kind shared by every leg.
func (p *ButterflyPosition) Kind() OptionKind { return p.legs[0].Kind }

// Expiry returns the expiry shared by every leg.
func (p *ButterflyPosition) Expiry() time.Time { return p.legs[0].Expiry }

// UnderlyingPrice returns the last observed underlying price, if any.
func (p *ButterflyPosition) UnderlyingPrice() (float64, bool) {
	if p.underlyingPrice == nil {
		return 0, false
	}
	return *p.underlyingPrice, true
}

// WithUnderlyingPrice returns a copy of the position carrying a refreshed underlying price.
func (p *ButterflyPosition) WithUnderlyingPrice(px float64) *ButterflyPosition {
	cp := *p
	cp.legs = copyLegs(p.legs)
	cp.underlyingPrice = &px
	return &cp
}

// WithQuotes returns a copy of the position whose legs carry the snapshot quotes. Legs the
// snapshot does not cover keep whatever quote they held.
func (p *ButterflyPosition) WithQuotes(snapshot MarketSnapshot) *ButterflyPosition {
	cp := *p
	cp.legs = copyLegs(p.legs)
	for i, leg := range cp.legs {
		if q, ok := snapshot[leg.Key()]; ok {
			cp.legs[i] = leg.WithQuote(q)
		}
	}
	return &cp
}

// SortedLegIndices returns leg indices ordered by ascending strike. Ties keep input order.
func (p *ButterflyPosition) SortedLegIndices() []int {
	idx := make([]int, len(p.legs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p.legs[idx[a]].Strike < p.legs[idx[b]].Strike
	})
	return idx
}

// DTE returns calendar days from now to expiry, evaluated in the expiry's location and
// clamped at zero.
func (p *ButterflyPosition) DTE(now time.Time) int {
	return DaysToExpiry(p.Expiry(), now)
}

// DaysToExpiry counts calendar days between now and expiry, clamped at zero.
func DaysToExpiry(expiry, now time.Time) int {
	loc := expiry.Location()
	n := now.In(loc)
	e := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
	d := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	days := int(e.Sub(d).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// NetEntryPremium is the per-share premium paid at entry: longs minus shorts, weighted by
// quantity. Negative means the fly was opened for a credit.
func (p *ButterflyPosition) NetEntryPremium() float64 {
	total := 0.0
	for _, l := range p.legs {
		if l.IsLong() {
			total += l.EntryPremium * float64(l.Quantity)
		} else {
			total -= l.EntryPremium * float64(l.Quantity)
		}
	}
	return total
}

// IsCreditFly reports whether the position was opened for a net credit.
func (p *ButterflyPosition) IsCreditFly() bool {
	return p.NetEntryPremium() < 0
}

// NetMark is the signed current mark (longs minus shorts) per share, using Mark() on each leg.
func (p *ButterflyPosition) NetMark() float64 {
	total := 0.0
	for _, l := range p.legs {
		if l.IsLong() {
			total += l.Mark() * float64(l.Quantity)
		} else {
			total -= l.Mark() * float64(l.Quantity)
		}
	}
	return total
}

type positionJSON struct {
	ID              string      `json:"id"`
	Symbol          string      `json:"symbol"`
	Legs            []OptionLeg `json:"legs"`
	NetDebit        float64     `json:"net_debit"`
	EntryTime       time.Time   `json:"entry_time"`
	UnderlyingPrice *float64    `json:"underlying_price,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p *ButterflyPosition) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionJSON{
		ID:              p.id,
		Symbol:          p.symbol,
		Legs:            p.legs,
		NetDebit:        p.netDebit,
		EntryTime:       p.entryTime,
		UnderlyingPrice: p.underlyingPrice,
	})
}

// UnmarshalJSON implements json.Unmarshaler and re-runs construction validation.
func (p *ButterflyPosition) UnmarshalJSON(data []byte) error {
	var raw positionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	built, err := NewButterflyPosition(raw.ID, raw.Symbol, raw.Legs, raw.NetDebit, raw.EntryTime, raw.UnderlyingPrice)
	if err != nil {
		return err
	}
	*p = *built
	return nil
}
