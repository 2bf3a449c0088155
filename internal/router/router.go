// Package router closes a butterfly as two sequential vertical spread orders and accepts
// or rejects the realized execution against the configured risk budgets.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/flyexit/internal/broker"
	"github.com/eddiefleurent/flyexit/internal/clock"
	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/logging"
	"github.com/eddiefleurent/flyexit/internal/metrics"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/util"
)

// limitFactor is the fraction of theoretical mid used as the limit price.
const limitFactor = 0.98

// Router works split-vertical exits. It holds only configuration and is safe for
// concurrent use.
type Router struct {
	clock  clock.Clock
	logger logrus.FieldLogger
	risk   config.RiskConfig
}

// NewRouter validates the risk budgets and builds a router.
func NewRouter(risk config.RiskConfig, clk clock.Clock, logger logrus.FieldLogger) (*Router, error) {
	if err := risk.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return &Router{
		risk:   risk,
		clock:  clock.OrReal(clk),
		logger: logging.OrDiscard(logger),
	}, nil
}

// Risk returns the router's budgets.
func (r *Router) Risk() config.RiskConfig {
	return r.risk
}

// ExitButterfly closes pos as two vertical spreads, higher estimated value first.
// It never returns nil and never panics; failures are reported through Success,
// ErrorMessage and Err with EntryCost populated. The position is not modified.
func (r *Router) ExitButterfly(ctx context.Context, pos *models.ButterflyPosition,
	snapshot models.MarketSnapshot, exec broker.SpreadExecutor) (result *models.ExitResult) {
	start := r.clock.Now()
	result = &models.ExitResult{
		AttemptID:  uuid.NewString(),
		ExitMethod: models.ExitMethodSplitVerticals,
	}
	if pos == nil {
		return r.fail(result, errors.New("position is required"))
	}
	result.PositionID = pos.ID()
	result.EntryCost = pos.NetDebit()
	if exec == nil {
		return r.fail(result, errors.New("executor is required"))
	}

	defer func() {
		if p := recover(); p != nil {
			result = r.fail(result, fmt.Errorf("exit aborted: %v", p))
		}
	}()

	log := r.logger.WithFields(logrus.Fields{
		"position_id": pos.ID(),
		"attempt_id":  result.AttemptID,
	})

	a, b, warnings, err := SplitVerticals(pos, snapshot)
	result.Warnings = warnings
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return r.fail(result, err)
	}
	log.WithFields(logrus.Fields{"spread_a": a.String(), "spread_b": b.String()}).Debug("decomposed fly")
	if !a.HasMids() || !b.HasMids() {
		return r.fail(result, fmt.Errorf("%w: no order submitted", ErrMissingQuote))
	}

	first, second := Prioritize(a, b)
	log.WithFields(logrus.Fields{
		"spread": first.String(),
		"value":  first.EstimatedValue,
	}).Info("closing high-value spread first")

	fill1, err := r.executeSpread(ctx, first, exec, 1)
	if err != nil {
		return r.fail(result, fmt.Errorf("failed to fill first vertical spread: %w", err))
	}
	result.SpreadAFill = fill1

	fill2, err := r.executeSpread(ctx, second, exec, 2)
	if err != nil {
		return r.fail(result, fmt.Errorf("failed to fill second vertical spread: %w", err))
	}
	result.SpreadBFill = fill2

	result.TotalLatencyMs = millis(fill2.FillTime.Sub(start))
	result.TimeBetweenSpreadsMs = millis(fill2.FillTime.Sub(fill1.FillTime))

	if result.TimeBetweenSpreadsMs > r.risk.MaxTimeBetweenSpreadsMs {
		return r.fail(result, fmt.Errorf("%w: time between spreads (%.0fms) exceeded limit (%.0fms)",
			ErrTimingBudget, result.TimeBetweenSpreadsMs, r.risk.MaxTimeBetweenSpreadsMs))
	}
	if result.TotalLatencyMs > r.risk.MaxTotalTimeMs {
		return r.fail(result, fmt.Errorf("%w: total latency (%.0fms) exceeded limit (%.0fms)",
			ErrTimingBudget, result.TotalLatencyMs, r.risk.MaxTotalTimeMs))
	}

	result.ExitProceeds = fill1.FillPrice + fill2.FillPrice
	result.RealizedPnL = result.ExitProceeds - pos.NetDebit()
	result.TotalSlippage = fill1.Slippage + fill2.Slippage
	if result.ExitProceeds > 0 {
		result.SlippageVsMid = result.TotalSlippage / result.ExitProceeds * 100
	}
	result.Success = true

	metrics.ExitAttemptsTotal.WithLabelValues("success").Inc()
	metrics.ExitLatency.Observe(result.TotalLatencyMs)
	metrics.RealizedPnL.Observe(result.RealizedPnL)
	log.WithFields(logrus.Fields{
		"pnl":      result.RealizedPnL,
		"slippage": result.TotalSlippage,
		"latency":  result.TotalLatencyMs,
	}).Info("exited fly")
	return result
}

// executeSpread submits one spread and applies the slippage acceptance test.
func (r *Router) executeSpread(ctx context.Context, spread models.VerticalSpread,
	exec broker.SpreadExecutor, n int) (*models.SpreadFill, error) {
	if !spread.HasMids() {
		return nil, fmt.Errorf("%w for spread %d", ErrMissingQuote, n)
	}
	theo := spread.TheoMid()
	limit := util.Cents(theo * limitFactor)

	callCtx := ctx
	if r.risk.ExecutorTimeoutMs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(r.risk.ExecutorTimeoutMs*float64(time.Millisecond)))
		defer cancel()
	}

	fill, err := exec.ExecuteSpreadExit(callCtx, spread, limit, r.risk.MaxSlippagePerSpreadAbs)
	if err != nil {
		return nil, fmt.Errorf("%w on spread %d: %w", ErrNoFill, n, err)
	}
	if fill == nil {
		return nil, fmt.Errorf("%w on spread %d", ErrNoFill, n)
	}

	slippage := math.Abs(theo - fill.FillPrice)
	pct := 0.0
	if theo > 0 {
		pct = slippage / theo
	}
	if pct > r.risk.MaxSlippagePerSpreadPct {
		return nil, fmt.Errorf("%w: spread %d slippage (%.2f%%) exceeded limit (%.1f%%)",
			ErrSlippageExceeded, n, pct*100, r.risk.MaxSlippagePerSpreadPct*100)
	}
	metrics.SpreadSlippage.Observe(pct)

	return &models.SpreadFill{
		Spread:      spread,
		FillPrice:   fill.FillPrice,
		Slippage:    slippage,
		SlippagePct: pct,
		FillTime:    fill.FillTime,
		LatencyMs:   fill.LatencyMs,
	}, nil
}

func (r *Router) fail(result *models.ExitResult, err error) *models.ExitResult {
	result.Success = false
	result.Err = err
	result.ErrorMessage = err.Error()
	result.ExitProceeds = 0
	result.RealizedPnL = 0

	metrics.ExitAttemptsTotal.WithLabelValues("failure").Inc()
	metrics.ExitFailuresTotal.WithLabelValues(FailureCause(err)).Inc()
	r.logger.WithFields(logrus.Fields{
		"position_id": result.PositionID,
		"attempt_id":  result.AttemptID,
	}).WithError(err).Error("failed to exit fly")
	return result
}

// FailureCause maps an exit error to a short label.
func FailureCause(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTimingBudget):
		return "timing"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, ErrMissingQuote):
		return "missing_quote"
	case errors.Is(err, ErrNotDecomposable):
		return "structure"
	case errors.Is(err, ErrNoFill):
		return "no_fill"
	default:
		return "other"
	}
}

// SplitVerticals aggregates the position by strike and splits it into the lower
// (low wing / body) and upper (body / high wing) verticals. Each spread's quantity is its
// wing quantity and its legs carry quotes from snapshot where one is present, otherwise
// whatever quote the position already held. The wings must together cover the body or
// ErrNotDecomposable is returned. A body that is not twice the lower wing yields a warning.
func SplitVerticals(pos *models.ButterflyPosition, snapshot models.MarketSnapshot) (
	a, b models.VerticalSpread, warnings []string, err error) {
	strikes := aggregateByStrike(pos)
	if len(strikes) != 3 {
		return a, b, nil, fmt.Errorf("%w: expected 3 strikes, got %d", ErrNotDecomposable, len(strikes))
	}
	for i := range strikes {
		if q, ok := snapshot[strikes[i].Key()]; ok {
			strikes[i] = strikes[i].WithQuote(q)
		}
	}
	low, body, high := strikes[0], strikes[1], strikes[2]

	if body.Quantity != low.Quantity+high.Quantity {
		return a, b, nil, fmt.Errorf("%w: body %d not covered by wings %d+%d",
			ErrNotDecomposable, body.Quantity, low.Quantity, high.Quantity)
	}
	if body.Quantity != 2*low.Quantity {
		warnings = append(warnings, fmt.Sprintf(
			"non-standard butterfly structure: body %d vs lower wing %d", body.Quantity, low.Quantity))
	}

	a, err = vertical(low, body)
	if err != nil {
		return a, b, warnings, err
	}
	b, err = vertical(high, body)
	if err != nil {
		return a, b, warnings, err
	}
	return a, b, warnings, nil
}

// vertical pairs a wing with the body. The wing sets the quantity.
func vertical(wing, body models.OptionLeg) (models.VerticalSpread, error) {
	if wing.Side == body.Side {
		return models.VerticalSpread{}, fmt.Errorf("%w: %s and %s are on the same side",
			ErrNotDecomposable, wing.String(), body.String())
	}
	long, short := wing, body
	if !long.IsLong() {
		long, short = body, wing
	}
	v := models.NewVerticalSpread(long, short, wing.Quantity)
	if v.HasMids() {
		v.EstimatedValue = v.TheoMid()
	}
	return v, nil
}

// aggregateByStrike nets the legs into one signed leg per strike, sorted by strike.
// Strikes that net to zero are dropped.
func aggregateByStrike(pos *models.ButterflyPosition) []models.OptionLeg {
	net := make(map[float64]int)
	proto := make(map[float64]models.OptionLeg)
	for _, leg := range pos.Legs() {
		q := leg.Quantity
		if !leg.IsLong() {
			q = -q
		}
		strike := models.NormalizeStrike(leg.Strike)
		net[strike] += q
		if _, ok := proto[strike]; !ok {
			leg.Strike = strike
			proto[strike] = leg
		}
	}

	out := make([]models.OptionLeg, 0, len(net))
	for strike, q := range net {
		if q == 0 {
			continue
		}
		leg := proto[strike]
		leg.Side = models.SideLong
		if q < 0 {
			leg.Side = models.SideShort
			q = -q
		}
		leg.Quantity = q
		out = append(out, leg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// Prioritize orders two spreads by estimated value, highest first. Ties keep a first.
func Prioritize(a, b models.VerticalSpread) (first, second models.VerticalSpread) {
	if a.EstimatedValue >= b.EstimatedValue {
		return a, b
	}
	return b, a
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
