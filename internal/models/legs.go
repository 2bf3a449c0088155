// Package models provides data structures and state management for butterfly positions.
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ContractMultiplier is the number of shares one option contract controls.
const ContractMultiplier = 100.0

// strikeEpsilon is the grid strikes are snapped to before they are compared.
const strikeEpsilon = 1e-4

const strikeScale = 1 / strikeEpsilon

// OptionKind represents the type of option contract
type OptionKind string

const (
	// KindCall represents a call option contract
	KindCall OptionKind = "call"
	// KindPut represents a put option contract
	KindPut OptionKind = "put"
)

// Valid returns true if the OptionKind is one of the defined constants
func (k OptionKind) Valid() bool {
	return k == KindCall || k == KindPut
}

// Code returns the single letter code used in market data keys ("C" or "P").
func (k OptionKind) Code() string {
	if k == KindCall {
		return "C"
	}
	return "P"
}

// Side is the direction of a leg.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid returns true if the Side is one of the defined constants
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Quote is a bid/ask/mid snapshot for a single contract.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
	Mid float64 `json:"mid"`
}

// MarketSnapshot maps a leg key (see LegKey) to its current quote.
type MarketSnapshot map[string]Quote

// LegKey builds the market data key for a contract, e.g. "C_505" or "P_502.5".
func LegKey(kind OptionKind, strike float64) string {
	return kind.Code() + "_" + strconv.FormatFloat(strike, 'f', -1, 64)
}

// OptionLeg is one contract line of a position.
type OptionLeg struct {
	Expiry       time.Time  `json:"expiry"`
	Bid          *float64   `json:"bid,omitempty"`
	Ask          *float64   `json:"ask,omitempty"`
	Mid          *float64   `json:"mid,omitempty"`
	Kind         OptionKind `json:"kind"`
	Side         Side       `json:"side"`
	Strike       float64    `json:"strike"`
	EntryPremium float64    `json:"entry_premium"` // per share, at entry
	Quantity     int        `json:"quantity"`
}

// IsLong reports whether the leg is long.
func (l OptionLeg) IsLong() bool {
	return l.Side == SideLong
}

// Key returns the market data key for this leg.
func (l OptionLeg) Key() string {
	return LegKey(l.Kind, l.Strike)
}

// ContractID identifies the distinct contract (strike, kind, expiry) behind this leg.
// Several legs may share one contract.
func (l OptionLeg) ContractID() string {
	return fmt.Sprintf("%s_%s", l.Key(), l.Expiry.UTC().Format("20060102"))
}

// Mark returns the current mid when one has been refreshed, otherwise the entry premium.
func (l OptionLeg) Mark() float64 {
	if l.Mid != nil {
		return *l.Mid
	}
	return l.EntryPremium
}

// HasQuote reports whether bid, ask and mid are all populated.
func (l OptionLeg) HasQuote() bool {
	return l.Bid != nil && l.Ask != nil && l.Mid != nil
}

// WithQuote returns a copy of the leg carrying q.
func (l OptionLeg) WithQuote(q Quote) OptionLeg {
	bid, ask, mid := q.Bid, q.Ask, q.Mid
	l.Bid, l.Ask, l.Mid = &bid, &ask, &mid
	return l
}

// IsITM reports whether the contract is in the money at the given underlying price.
func (l OptionLeg) IsITM(underlying float64) bool {
	if l.Kind == KindCall {
		return underlying > l.Strike
	}
	return underlying < l.Strike
}

// NormalizeStrike snaps a strike to the strikeEpsilon grid so that strikes differing
// only by float noise map to the same value. Use it for map keys.
func NormalizeStrike(s float64) float64 {
	return math.Round(s*strikeScale) / strikeScale
}

// SameStrike reports whether two strikes normalize to the same value.
func SameStrike(a, b float64) bool {
	return NormalizeStrike(a) == NormalizeStrike(b)
}

func (l OptionLeg) String() string {
	sign := "+"
	if !l.IsLong() {
		sign = "-"
	}
	return fmt.Sprintf("%s%d %s %s", sign, l.Quantity, strings.ToUpper(string(l.Kind)),
		strconv.FormatFloat(l.Strike, 'f', -1, 64))
}

func (l OptionLeg) validate() error {
	if !l.Kind.Valid() {
		return fmt.Errorf("kind must be call or put (got %q)", l.Kind)
	}
	if !l.Side.Valid() {
		return fmt.Errorf("side must be long or short (got %q)", l.Side)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0 (got %d)", l.Quantity)
	}
	if l.Strike <= 0 || math.IsNaN(l.Strike) || math.IsInf(l.Strike, 0) {
		return fmt.Errorf("strike must be a positive number (got %v)", l.Strike)
	}
	if l.Expiry.IsZero() {
		return fmt.Errorf("expiry must be set")
	}
	return nil
}
