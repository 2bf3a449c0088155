// Package orders drives ledger positions through evaluation and exit.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/flyexit/internal/broker"
	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/logging"
	"github.com/eddiefleurent/flyexit/internal/metrics"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/retry"
	"github.com/eddiefleurent/flyexit/internal/storage"
	"github.com/eddiefleurent/flyexit/internal/strategy"
)

// Config contains configuration for the exit manager.
type Config struct {
	Workers int
}

// DefaultConfig is the default configuration for the exit manager.
var DefaultConfig = Config{
	Workers: 4,
}

// ConfigFrom reads the manager section of the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{Workers: cfg.Manager.Workers}
}

// MarketData is the market view for one position at evaluation time.
type MarketData struct {
	Snapshot   models.MarketSnapshot
	Underlying float64 // zero falls back to the price stored on the position
}

// Outcome is what ExitAll did with one open position.
type Outcome struct {
	Err        error
	Result     *models.ExitResult
	PositionID string
	Decision   strategy.Decision
	Skipped    bool // no market data supplied
}

// Manager bridges the ledger, the decision engine and the router.
type Manager struct {
	engine   *strategy.Engine
	retrier  *retry.Client
	storage  storage.Interface
	executor broker.SpreadExecutor
	logger   logrus.FieldLogger
	config   Config
}

// NewManager creates a new exit manager instance.
func NewManager(
	engine *strategy.Engine,
	retrier *retry.Client,
	store storage.Interface,
	executor broker.SpreadExecutor,
	logger logrus.FieldLogger,
	config ...Config,
) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig.Workers
	}

	// Validate required dependencies (fail fast to avoid later panics)
	if engine == nil {
		panic("orders.NewManager: engine must not be nil")
	}
	if retrier == nil {
		panic("orders.NewManager: retrier must not be nil")
	}
	if store == nil {
		panic("orders.NewManager: storage must not be nil")
	}
	if executor == nil {
		panic("orders.NewManager: executor must not be nil")
	}

	return &Manager{
		engine:   engine,
		retrier:  retrier,
		storage:  store,
		executor: executor,
		logger:   logging.OrDiscard(logger),
		config:   cfg,
	}
}

// Evaluate runs the decision engine for a ledger position priced off md.
func (m *Manager) Evaluate(positionID string, now time.Time, md MarketData) (strategy.Decision, error) {
	tp, err := m.storage.GetPosition(positionID)
	if err != nil {
		return strategy.Decision{}, err
	}
	return m.evaluate(tp, now, md)
}

func (m *Manager) evaluate(tp *models.TrackedPosition, now time.Time, md MarketData) (strategy.Decision, error) {
	pos := tp.Position.WithQuotes(md.Snapshot)
	px := md.Underlying
	if px > 0 {
		pos = pos.WithUnderlyingPrice(px)
	} else if stored, ok := pos.UnderlyingPrice(); ok {
		px = stored
	}

	d, err := m.engine.Evaluate(strategy.Input{Now: now, Position: pos, UnderlyingPrice: px})
	if err != nil {
		return d, err
	}

	reason := string(d.Reason)
	if d.Reason == strategy.ReasonNone {
		reason = "NONE"
	}
	metrics.DecisionsTotal.WithLabelValues(string(d.Structure.Type), reason).Inc()
	return d, nil
}

// ExitPosition moves an open position to exit_pending and works the exit through the retry
// client. Every attempt is recorded. A filled exit closes the position; exhausted retries
// park it in error; any other failure returns it to open.
func (m *Manager) ExitPosition(ctx context.Context, positionID string, snapshot models.MarketSnapshot,
	reason string) (*models.ExitResult, error) {
	tp, err := m.storage.GetPosition(positionID)
	if err != nil {
		return nil, err
	}
	if tp.State != models.StateOpen {
		return nil, fmt.Errorf("%w: position %s is %s", ErrNotOpen, positionID, tp.State)
	}

	log := m.logger.WithFields(logrus.Fields{"position_id": positionID, "reason": reason})

	if err := tp.TransitionState(models.StateExitPending, models.ConditionExitTriggered); err != nil {
		return nil, err
	}
	if err := m.storage.UpdatePosition(tp); err != nil {
		return nil, fmt.Errorf("persisting exit_pending for %s: %w", positionID, err)
	}
	log.Info("Exit started")

	attempts, exitErr := m.retrier.ExitWithRetry(ctx, tp.Position, snapshot, m.executor)
	for _, res := range attempts {
		if err := m.storage.RecordExit(res, reason); err != nil {
			log.WithError(err).Warn("Failed to record exit attempt")
		}
	}

	var final *models.ExitResult
	if len(attempts) > 0 {
		final = attempts[len(attempts)-1]
		tp.ApplyResult(final, reason)
	}

	to, condition := nextState(final, exitErr)
	if err := tp.TransitionState(to, condition); err != nil {
		return final, errors.Join(exitErr, err)
	}
	if err := m.storage.UpdatePosition(tp); err != nil {
		return final, errors.Join(exitErr, fmt.Errorf("persisting %s for %s: %w", to, positionID, err))
	}
	m.refreshOpenGauge()

	fields := logrus.Fields{"state": to, "attempts": len(attempts)}
	if final != nil {
		fields["realized_pnl"] = final.RealizedPnL
	}
	if exitErr != nil {
		log.WithFields(fields).WithError(exitErr).Warn("Exit failed")
		return final, exitErr
	}
	log.WithFields(fields).Info("Exit filled")
	return final, nil
}

func nextState(final *models.ExitResult, exitErr error) (models.PositionState, string) {
	switch {
	case exitErr == nil && final != nil && final.Success:
		return models.StateClosed, models.ConditionExitFilled
	case errors.Is(exitErr, retry.ErrRetriesExhausted):
		return models.StateError, models.ConditionRetriesExhausted
	default:
		return models.StateOpen, models.ConditionExitFailed
	}
}

// ExitAll evaluates every open position that has market data and exits the ones the engine
// flags, running at most Workers exits at a time. Per-position failures are reported in the
// outcomes; the returned error is only set when ctx ends.
func (m *Manager) ExitAll(ctx context.Context, now time.Time, data map[string]MarketData) ([]Outcome, error) {
	open := m.storage.GetOpenPositions()
	metrics.OpenPositions.Set(float64(len(open)))

	outcomes := make([]Outcome, len(open))
	g := new(errgroup.Group)
	g.SetLimit(m.config.Workers)

	for i, tp := range open {
		outcomes[i].PositionID = tp.ID()

		md, ok := data[tp.ID()]
		if !ok {
			outcomes[i].Skipped = true
			continue
		}

		i, tp := i, tp
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			out := &outcomes[i]
			out.Decision, out.Err = m.evaluate(tp, now, md)
			if out.Err != nil || !out.Decision.ShouldExit() {
				return nil
			}
			out.Result, out.Err = m.ExitPosition(ctx, tp.ID(), md.Snapshot, string(out.Decision.Reason))
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (m *Manager) refreshOpenGauge() {
	metrics.OpenPositions.Set(float64(len(m.storage.GetOpenPositions())))
}
