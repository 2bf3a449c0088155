package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/structure"
)

var expiry = time.Date(2025, 6, 20, 16, 0, 0, 0, time.UTC)

func leg(kind models.OptionKind, side models.Side, strike float64, qty int, premium float64) models.OptionLeg {
	return models.OptionLeg{
		Kind:         kind,
		Side:         side,
		Strike:       strike,
		Quantity:     qty,
		Expiry:       expiry,
		EntryPremium: premium,
	}
}

// debitCallFly is a 1-lot 445/450/455 long call fly bought for $1.00.
func debitCallFly(t *testing.T) *models.ButterflyPosition {
	t.Helper()
	call := models.KindCall
	p, err := models.NewButterflyPosition("fly-call", "SPY", []models.OptionLeg{
		leg(call, models.SideLong, 445, 1, 6.0),
		leg(call, models.SideShort, 450, 2, 3.0),
		leg(call, models.SideLong, 455, 1, 1.0),
	}, 100, expiry.AddDate(0, 0, -10), nil)
	require.NoError(t, err)
	return p
}

// debitPutFly is a 1-lot 500/505/510 long put fly bought for $1.00.
func debitPutFly(t *testing.T) *models.ButterflyPosition {
	t.Helper()
	put := models.KindPut
	p, err := models.NewButterflyPosition("fly-put", "SPY", []models.OptionLeg{
		leg(put, models.SideLong, 510, 1, 8.0),
		leg(put, models.SideShort, 505, 2, 5.0),
		leg(put, models.SideLong, 500, 1, 3.0),
	}, 100, expiry.AddDate(0, 0, -10), nil)
	require.NoError(t, err)
	return p
}

// putUBFly is the 1:-3:2 put broken wing opened for a $1.50 credit.
func putUBFly(t *testing.T) *models.ButterflyPosition {
	t.Helper()
	put := models.KindPut
	p, err := models.NewButterflyPosition("fly-ub", "SPY", []models.OptionLeg{
		leg(put, models.SideLong, 510, 1, 8.5),
		leg(put, models.SideShort, 505, 3, 5.0),
		leg(put, models.SideLong, 500, 2, 2.5),
	}, 150, expiry.AddDate(0, 0, -10), nil)
	require.NoError(t, err)
	return p
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(config.DefaultExitConfig(), nil)
	require.NoError(t, err)
	return e
}

func ptr(v float64) *float64 { return &v }

func daysBefore(n int) time.Time {
	return expiry.AddDate(0, 0, -n).Add(-4 * time.Hour)
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultExitConfig()
	cfg.BaseProfitTarget = 0
	_, err := NewEngine(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_profit_target")
}

func TestEvaluate_BaseProfitAboveTwoDays(t *testing.T) {
	e := newEngine(t)
	d, err := e.Evaluate(Input{
		Position:        debitCallFly(t),
		Now:             daysBefore(5),
		UnderlyingPrice: 450,
		CurrentValue:    ptr(3.6),
	})
	require.NoError(t, err)

	assert.Equal(t, ReasonBaseProfit, d.Reason)
	assert.Equal(t, 5, d.DTE)
	assert.InDelta(t, 0.65, d.ProfitCaptured, 1e-9)
	assert.InDelta(t, 260, d.PnL, 1e-9)
	require.Len(t, d.Orders, 1)
	assert.Equal(t, "EXIT_BALANCED_FLY_BASE_PROFIT", d.Orders[0].Tag)
	assert.Equal(t, models.TimeInForceDay, d.Orders[0].TimeInForce)
	assert.Equal(t, 2, d.Orders[0].TotalQuantity(models.BuyToClose))
	assert.Equal(t, 2, d.Orders[0].TotalQuantity(models.SellToClose))
}

func TestEvaluate_BaseProfitSkippedNearExpiryFallsToPin(t *testing.T) {
	e := newEngine(t)
	d, err := e.Evaluate(Input{
		Position:        debitCallFly(t),
		Now:             daysBefore(1),
		UnderlyingPrice: 450,
		CurrentValue:    ptr(3.6),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, d.DTE)
	assert.Equal(t, ReasonPinProfit, d.Reason)
	require.NotEmpty(t, d.Orders)
	assert.Equal(t, "EXIT_BALANCED_FLY_PIN_PROFIT", d.Orders[0].Tag)
}

func TestEvaluate_ExpiryWithITMShortBody(t *testing.T) {
	e := newEngine(t)
	now := time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value float64
	}{
		{"losing", 0.0},
		{"flat", 1.0},
		{"winning", 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Evaluate(Input{
				Position:        debitPutFly(t),
				Now:             now,
				UnderlyingPrice: 495,
				CurrentValue:    ptr(tt.value),
			})
			require.NoError(t, err)
			assert.Equal(t, 0, d.DTE)
			assert.Equal(t, ReasonExpiry, d.Reason)
			require.NotEmpty(t, d.Orders)
			assert.Equal(t, "EXIT_BALANCED_FLY_EXPIRY", d.Orders[0].Tag)
			assert.Equal(t, 2, d.Orders[0].TotalQuantity(models.BuyToClose))
		})
	}
}

func TestEvaluate_Rules(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name   string
		pos    func(*testing.T) *models.ButterflyPosition
		now    time.Time
		px     float64
		value  *float64
		pnl    *float64
		reason Reason
		tag    string
	}{
		{
			name:   "loss cut at half the debit",
			pos:    debitCallFly,
			now:    daysBefore(5),
			px:     450,
			value:  ptr(0.4),
			reason: ReasonLossCut,
			tag:    "EXIT_BALANCED_FLY_LOSS_CUT",
		},
		{
			name:   "loss just inside the limit",
			pos:    debitCallFly,
			now:    daysBefore(5),
			px:     450,
			value:  ptr(0.55),
			reason: ReasonNone,
		},
		{
			name:   "rail breach on broken wing",
			pos:    putUBFly,
			now:    daysBefore(5),
			px:     499,
			pnl:    ptr(0),
			reason: ReasonRailProtection,
			tag:    "EXIT_UBFLY_BODY_RAIL_PROTECTION",
		},
		{
			name:   "above the rail buffer",
			pos:    putUBFly,
			now:    daysBefore(5),
			px:     499.6,
			pnl:    ptr(0),
			value:  ptr(1.5),
			reason: ReasonNone,
		},
		{
			name:   "time give up far from body",
			pos:    debitCallFly,
			now:    daysBefore(3),
			px:     440,
			value:  ptr(1.2),
			reason: ReasonTimeGiveUp,
			tag:    "EXIT_BALANCED_FLY_TIME_GIVEUP",
		},
		{
			name:   "no give up near body",
			pos:    debitCallFly,
			now:    daysBefore(3),
			px:     448,
			value:  ptr(1.2),
			reason: ReasonNone,
		},
		{
			name:   "pin zone without enough profit",
			pos:    debitCallFly,
			now:    daysBefore(1),
			px:     450.5,
			value:  ptr(2.5),
			reason: ReasonNone,
		},
		{
			name:   "expiry out of the money",
			pos:    debitPutFly,
			now:    daysBefore(0),
			px:     515,
			value:  ptr(0.8),
			reason: ReasonExpiry,
			tag:    "EXIT_BALANCED_FLY_EXPIRY",
		},
		{
			name:   "quiet mid-life position",
			pos:    debitCallFly,
			now:    daysBefore(5),
			px:     450,
			value:  ptr(1.2),
			reason: ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Evaluate(Input{
				Position:        tt.pos(t),
				Now:             tt.now,
				UnderlyingPrice: tt.px,
				CurrentValue:    tt.value,
				PnL:             tt.pnl,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.reason, d.Reason)
			if tt.reason == ReasonNone {
				assert.Empty(t, d.Orders)
				assert.False(t, d.ShouldExit())
				return
			}
			require.NotEmpty(t, d.Orders)
			assert.True(t, d.ShouldExit())
			assert.Equal(t, tt.tag, d.Orders[0].Tag)
		})
	}
}

func TestEvaluate_DerivedCreditMetrics(t *testing.T) {
	e := newEngine(t)
	d, err := e.Evaluate(Input{
		Position:        putUBFly(t),
		Now:             daysBefore(5),
		UnderlyingPrice: 506,
	})
	require.NoError(t, err)

	// no quotes: marks are entry premiums, so the fly is worth exactly its credit
	assert.True(t, d.IsCredit)
	assert.Equal(t, 1, d.Lots)
	assert.InDelta(t, 1.5, d.EntryCredit, 1e-9)
	assert.InDelta(t, 1.5, d.CurrentValue, 1e-9)
	assert.InDelta(t, 0, d.PnL, 1e-9)
	assert.InDelta(t, 3.5, d.RiskPerFly, 1e-9)
	assert.InDelta(t, 0, d.ProfitCaptured, 1e-9)
	assert.Equal(t, ReasonNone, d.Reason)
}

func TestEvaluate_MultiLotNormalizedPerFly(t *testing.T) {
	call := models.KindCall
	p, err := models.NewButterflyPosition("fly-3", "SPY", []models.OptionLeg{
		leg(call, models.SideLong, 445, 3, 6.0),
		leg(call, models.SideShort, 450, 6, 3.0),
		leg(call, models.SideLong, 455, 3, 1.0),
	}, 300, expiry.AddDate(0, 0, -10), nil)
	require.NoError(t, err)

	d, err := newEngine(t).Evaluate(Input{Position: p, Now: daysBefore(5), UnderlyingPrice: 450})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Lots)
	assert.InDelta(t, 1.0, d.EntryCredit, 1e-9)
	assert.InDelta(t, 1.0, d.CurrentValue, 1e-9)
}

func TestEvaluate_UnknownStructureIsNoOp(t *testing.T) {
	put := models.KindPut
	p, err := models.NewButterflyPosition("odd", "SPY", []models.OptionLeg{
		leg(put, models.SideLong, 500, 4, 2.5),
		leg(put, models.SideShort, 505, 4, 5.0),
		leg(put, models.SideLong, 510, 1, 8.5),
	}, 100, expiry.AddDate(0, 0, -10), nil)
	require.NoError(t, err)

	d, err := newEngine(t).Evaluate(Input{Position: p, Now: daysBefore(0), UnderlyingPrice: 490})
	require.NoError(t, err)
	assert.Equal(t, structure.Unknown, d.Structure.Type)
	assert.Equal(t, ReasonNone, d.Reason)
	assert.Empty(t, d.Orders)
}

func TestEvaluate_NilPosition(t *testing.T) {
	_, err := newEngine(t).Evaluate(Input{})
	require.Error(t, err)
}

func TestOrderTags(t *testing.T) {
	tests := []struct {
		typ        structure.StructureType
		reason     Reason
		body, wing string
	}{
		{structure.UBFly, ReasonBaseProfit, "EXIT_UBFLY_BODY_BASE_PROFIT", "EXIT_UBFLY_WINGS_BASE_PROFIT"},
		{structure.UBFly, ReasonExpiry, "EXIT_UBFLY_EXPIRY", "EXIT_UBFLY_WINGS_EXPIRY"},
		{structure.BalancedFly, ReasonLossCut, "EXIT_BALANCED_FLY_LOSS_CUT", "EXIT_BALANCED_FLY_WINGS_LOSS_CUT"},
		{structure.BalancedFly, ReasonExpiry, "EXIT_BALANCED_FLY_EXPIRY", "EXIT_BALANCED_FLY_WINGS_EXPIRY"},
	}
	for _, tt := range tests {
		body, wing := orderTags(tt.typ, tt.reason)
		assert.Equal(t, tt.body, body)
		assert.Equal(t, tt.wing, wing)
	}
}
