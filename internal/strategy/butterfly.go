// Package strategy implements the rule-based exit decision engine for butterflies.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/logging"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/structure"
)

// Reason is why the engine wants out.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonLossCut        Reason = "LOSS_CUT"
	ReasonRailProtection Reason = "RAIL_PROTECTION"
	ReasonBaseProfit     Reason = "BASE_PROFIT"
	ReasonTimeGiveUp     Reason = "TIME_GIVEUP"
	ReasonPinProfit      Reason = "PIN_PROFIT"
	ReasonExpiry         Reason = "EXPIRY"
)

// Input is everything one evaluation needs. The optional fields override values derived
// from the position and are expressed per fly: EntryCredit and CurrentValue per share,
// PnL in dollars.
type Input struct {
	Now             time.Time
	Position        *models.ButterflyPosition
	EntryCredit     *float64
	CurrentValue    *float64
	PnL             *float64
	UnderlyingPrice float64
}

// Decision is the engine's verdict. Orders is empty when Reason is ReasonNone.
type Decision struct {
	Structure      structure.StructureInfo
	Reason         Reason
	Orders         []models.OrderSpec
	DTE            int
	Lots           int
	IsCredit       bool
	EntryCredit    float64
	CurrentValue   float64
	RiskPerFly     float64
	ProfitCaptured float64
	PnL            float64
}

// ShouldExit reports whether the decision carries exit orders.
func (d Decision) ShouldExit() bool {
	return d.Reason != ReasonNone && len(d.Orders) > 0
}

// Engine evaluates open flies against the exit rules. It holds no per-position state.
type Engine struct {
	logger logrus.FieldLogger
	cfg    config.ExitConfig
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg config.ExitConfig, logger logrus.FieldLogger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("exit config: %w", err)
	}
	return &Engine{cfg: cfg, logger: logging.OrDiscard(logger)}, nil
}

// Config returns the engine thresholds.
func (e *Engine) Config() config.ExitConfig {
	return e.cfg
}

// Evaluate applies the exit rules in priority order; the first match wins. On expiry day an
// in-the-money short body forces an expiry exit ahead of every other rule. An unknown
// structure yields an empty decision and no error. A structural error from the decomposer
// is returned wrapped.
func (e *Engine) Evaluate(in Input) (Decision, error) {
	if in.Position == nil {
		return Decision{}, errors.New("evaluate: position is required")
	}
	pos := in.Position

	info := structure.Classify(pos)
	if !info.IsKnown() {
		e.logger.WithField("position_id", pos.ID()).Debug("unknown fly structure, no action")
		return Decision{Structure: info}, nil
	}

	d := e.metrics(in, info)
	reason := ReasonExpiry
	if d.DTE > 0 || !shortBodyITM(pos, info, in.UnderlyingPrice) {
		reason = e.decide(d, in.UnderlyingPrice)
	}
	if reason == ReasonNone {
		return d, nil
	}

	orders, err := e.buildOrders(pos, info, reason, d.DTE)
	if err != nil {
		return d, fmt.Errorf("position %s %s exit: %w", pos.ID(), reason, err)
	}
	d.Reason = reason
	d.Orders = orders

	e.logger.WithFields(logrus.Fields{
		"position_id":     pos.ID(),
		"structure":       info.Type,
		"reason":          reason,
		"dte":             d.DTE,
		"pnl":             d.PnL,
		"profit_captured": d.ProfitCaptured,
		"orders":          len(orders),
	}).Info("exit triggered")
	return d, nil
}

// metrics derives the per-fly entry, value, risk and P&L figures.
func (e *Engine) metrics(in Input, info structure.StructureInfo) Decision {
	pos := in.Position
	d := Decision{
		Structure: info,
		DTE:       pos.DTE(in.Now),
		Lots:      lotsOf(info),
		IsCredit:  pos.IsCreditFly(),
	}
	lots := float64(d.Lots)

	if in.EntryCredit != nil {
		d.EntryCredit = *in.EntryCredit
	} else {
		d.EntryCredit = pos.NetDebit() / models.ContractMultiplier / lots
	}

	if in.CurrentValue != nil {
		d.CurrentValue = *in.CurrentValue
	} else {
		mark := pos.NetMark()
		if d.IsCredit {
			mark = -mark
		}
		d.CurrentValue = mark / lots
	}

	if in.PnL != nil {
		d.PnL = *in.PnL
	} else if d.IsCredit {
		d.PnL = (d.EntryCredit - d.CurrentValue) * models.ContractMultiplier
	} else {
		d.PnL = (d.CurrentValue - d.EntryCredit) * models.ContractMultiplier
	}

	w := info.Width
	if d.IsCredit {
		d.RiskPerFly = w - d.EntryCredit
		if d.EntryCredit > 0 {
			d.ProfitCaptured = (d.EntryCredit - d.CurrentValue) / d.EntryCredit
		}
	} else {
		d.RiskPerFly = d.EntryCredit
		if maxProfit := w - d.EntryCredit; maxProfit > 0 {
			d.ProfitCaptured = (d.CurrentValue - d.EntryCredit) / maxProfit
		}
	}
	return d
}

func (e *Engine) decide(d Decision, underlying float64) Reason {
	cfg := e.cfg
	info := d.Structure
	w := info.Width
	fromBody := math.Abs(underlying - info.KBody)

	if d.RiskPerFly > 0 && d.PnL <= -cfg.MaxLossFraction*d.RiskPerFly*models.ContractMultiplier {
		return ReasonLossCut
	}
	if info.Type == structure.UBFly && underlying <= info.KLow-cfg.RailBufferFraction*w {
		return ReasonRailProtection
	}
	if d.DTE >= 2 && d.ProfitCaptured >= cfg.BaseProfitTarget {
		return ReasonBaseProfit
	}
	if d.DTE >= 2 && d.DTE <= 3 &&
		d.ProfitCaptured < cfg.MinCreditBeforeFinalDays &&
		fromBody > cfg.FarZoneFraction*w {
		return ReasonTimeGiveUp
	}
	if d.DTE <= 1 &&
		fromBody <= cfg.PinZoneFraction*w &&
		d.PnL >= cfg.PinProfitMultiple*d.EntryCredit*models.ContractMultiplier {
		return ReasonPinProfit
	}
	if d.DTE == 0 {
		return ReasonExpiry
	}
	return ReasonNone
}

// buildOrders collapses the body into verticals and closes qualifying leftover wings.
func (e *Engine) buildOrders(pos *models.ButterflyPosition, info structure.StructureInfo,
	reason Reason, dte int) ([]models.OrderSpec, error) {
	decomp, err := structure.Decompose(pos, info)
	if err != nil {
		return nil, err
	}

	bodyTag, wingTag := orderTags(info.Type, reason)
	var orders []models.OrderSpec
	if len(decomp.Legs) > 0 {
		orders = append(orders, models.OrderSpec{
			Legs:        decomp.Legs,
			Tag:         bodyTag,
			TimeInForce: models.TimeInForceDay,
		})
	}

	wings := structure.WingExits(pos, decomp.Consumed, e.cfg.WingCloseThreshold, dte)
	if len(wings) > 0 {
		orders = append(orders, models.OrderSpec{
			Legs:        wings,
			Tag:         wingTag,
			TimeInForce: models.TimeInForceDay,
		})
	}
	return orders, nil
}

func orderTags(t structure.StructureType, reason Reason) (body, wings string) {
	prefix := "EXIT_" + string(t)
	if reason == ReasonExpiry {
		return prefix + "_EXPIRY", prefix + "_WINGS_EXPIRY"
	}
	if t == structure.UBFly {
		return prefix + "_BODY_" + string(reason), prefix + "_WINGS_" + string(reason)
	}
	return prefix + "_" + string(reason), prefix + "_WINGS_" + string(reason)
}

// shortBodyITM reports whether any short body leg would be assigned at the given price.
func shortBodyITM(pos *models.ButterflyPosition, info structure.StructureInfo, underlying float64) bool {
	for _, leg := range pos.Legs() {
		if !leg.IsLong() && models.SameStrike(leg.Strike, info.KBody) && leg.IsITM(underlying) {
			return true
		}
	}
	return false
}

// lotsOf is the number of whole flies in the structure, at least one.
func lotsOf(info structure.StructureInfo) int {
	shorts := 0
	for k, c := range info.LegMap {
		if models.SameStrike(k.Strike, info.KBody) {
			shorts += c.Short
		}
	}
	per := 2
	if info.Type == structure.UBFly {
		per = 3
	}
	if n := shorts / per; n > 0 {
		return n
	}
	return 1
}
