package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/flyexit/internal/clock"
	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/logging"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/util"
)

// BacktestExecutor fills spreads from quoted bid/ask with random slippage and latency.
type BacktestExecutor struct {
	clock  clock.Clock
	logger logrus.FieldLogger
	rng    *rand.Rand
	cfg    config.ExecutorConfig
	mu     sync.Mutex // guards rng
}

var _ SpreadExecutor = (*BacktestExecutor)(nil)

// NewBacktestExecutor builds a simulated executor. A nil rng is seeded from the clock and a
// nil clock falls back to wall time.
func NewBacktestExecutor(cfg config.ExecutorConfig, rng *rand.Rand, clk clock.Clock,
	logger logrus.FieldLogger) (*BacktestExecutor, error) {
	if cfg.SlippageMinPct < 0 || cfg.SlippageMaxPct < cfg.SlippageMinPct {
		return nil, fmt.Errorf("executor slippage range [%.4f, %.4f] is invalid",
			cfg.SlippageMinPct, cfg.SlippageMaxPct)
	}
	if cfg.MinLatencyMs < 0 || cfg.MaxLatencyMs < cfg.MinLatencyMs {
		return nil, fmt.Errorf("executor latency range [%.0f, %.0f] is invalid",
			cfg.MinLatencyMs, cfg.MaxLatencyMs)
	}
	clk = clock.OrReal(clk)
	if rng == nil {
		rng = rand.New(rand.NewSource(clk.Now().UnixNano()))
	}
	return &BacktestExecutor{
		cfg:    cfg,
		rng:    rng,
		clock:  clk,
		logger: logging.OrDiscard(logger),
	}, nil
}

// ExecuteSpreadExit simulates closing the spread. The natural price sells the long leg at
// the bid and buys the short leg back at the ask. It returns a nil fill when a quote is
// missing or the simulated fill breaks the slippage cap or the limit.
func (b *BacktestExecutor) ExecuteSpreadExit(ctx context.Context, spread models.VerticalSpread,
	limitPrice, maxSlippage float64) (*models.OrderFill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spread.Long.Bid == nil || spread.Long.Ask == nil || spread.Short.Bid == nil || spread.Short.Ask == nil {
		b.logger.WithField("spread", spread.String()).Debug("missing bid/ask, no fill")
		return nil, nil
	}

	qty := float64(spread.Quantity)
	natural := math.Abs(*spread.Long.Bid-*spread.Short.Ask) * models.ContractMultiplier * qty

	slipPct, latencyMs := b.draw()
	slippage := natural * slipPct
	fillPrice := util.Cents(natural - slippage)

	entry := b.logger.WithFields(logrus.Fields{
		"spread":    spread.String(),
		"natural":   natural,
		"fill":      fillPrice,
		"limit":     limitPrice,
		"slippage":  slippage,
		"latencyMs": latencyMs,
	})
	if slippage > maxSlippage {
		entry.Debug("simulated slippage over cap, no fill")
		return nil, nil
	}
	if fillPrice < limitPrice {
		entry.Debug("simulated fill below limit, no fill")
		return nil, nil
	}

	entry.Debug("simulated fill")
	return &models.OrderFill{
		FillPrice: fillPrice,
		FillTime:  b.clock.Now().Add(time.Duration(latencyMs * float64(time.Millisecond))),
		LatencyMs: latencyMs,
		Slippage:  slippage,
	}, nil
}

func (b *BacktestExecutor) draw() (slipPct, latencyMs float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	slipPct = uniform(b.rng, b.cfg.SlippageMinPct, b.cfg.SlippageMaxPct)
	latencyMs = uniform(b.rng, b.cfg.MinLatencyMs, b.cfg.MaxLatencyMs)
	return slipPct, latencyMs
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// LiveExecutor is the placeholder for a real brokerage backend.
type LiveExecutor struct{}

var _ SpreadExecutor = LiveExecutor{}

// ExecuteSpreadExit always fails with ErrNotImplemented.
func (LiveExecutor) ExecuteSpreadExit(context.Context, models.VerticalSpread, float64, float64) (*models.OrderFill, error) {
	return nil, ErrNotImplemented
}

// NewExecutor builds the executor for the configured mode, wrapped in the circuit breaker.
func NewExecutor(cfg *config.Config, rng *rand.Rand, clk clock.Clock, logger logrus.FieldLogger) (SpreadExecutor, error) {
	var inner SpreadExecutor
	switch cfg.Environment.Mode {
	case config.ModeBacktest, config.ModePaper:
		bt, err := NewBacktestExecutor(cfg.Executor, rng, clk, logger)
		if err != nil {
			return nil, err
		}
		inner = bt
	case config.ModeLive:
		inner = LiveExecutor{}
	default:
		return nil, fmt.Errorf("unknown environment mode %q", cfg.Environment.Mode)
	}
	return NewCircuitBreakerExecutorWithSettings(inner, SettingsFromConfig(cfg), logger), nil
}
