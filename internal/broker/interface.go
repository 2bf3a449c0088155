// Package broker provides the order execution backends used to work vertical spread exits.
// It includes the simulated backtest executor and the circuit breaker wrapper.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/logging"
	"github.com/eddiefleurent/flyexit/internal/models"
)

// SpreadExecutor defines the interface for working a single vertical spread exit order.
// A nil fill or a non-nil error means the spread did not fill.
type SpreadExecutor interface {
	// ExecuteSpreadExit closes the spread at limitPrice or better. limitPrice and
	// maxSlippage are total dollars for the spread quantity.
	ExecuteSpreadExit(ctx context.Context, spread models.VerticalSpread,
		limitPrice, maxSlippage float64) (*models.OrderFill, error)
}

// CircuitBreakerExecutor wraps a SpreadExecutor with circuit breaker functionality
type CircuitBreakerExecutor struct {
	executor SpreadExecutor
	breaker  *gobreaker.CircuitBreaker
}

// Ensure the wrapper is itself an executor at compile time.
var _ SpreadExecutor = (*CircuitBreakerExecutor)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	executor SpreadExecutor,
	fn func(SpreadExecutor) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(executor) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings mirrors the defaults applied by config.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// SettingsFromConfig converts the breaker section of the loaded config.
func SettingsFromConfig(cfg *config.Config) CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     cfg.GetBreakerInterval(),
		Timeout:      cfg.GetBreakerTimeout(),
		MinRequests:  cfg.Breaker.MinRequests,
		FailureRatio: cfg.Breaker.FailureRatio,
	}
}

// NewCircuitBreakerExecutor creates a CircuitBreakerExecutor with default settings
func NewCircuitBreakerExecutor(executor SpreadExecutor, logger logrus.FieldLogger) *CircuitBreakerExecutor {
	return NewCircuitBreakerExecutorWithSettings(executor, DefaultCircuitBreakerSettings(), logger)
}

// NewCircuitBreakerExecutorWithSettings creates a CircuitBreakerExecutor with custom settings
func NewCircuitBreakerExecutorWithSettings(executor SpreadExecutor, settings CircuitBreakerSettings,
	logger logrus.FieldLogger) *CircuitBreakerExecutor {
	if executor == nil {
		panic("broker: executor is required")
	}
	logger = logging.OrDiscard(logger)

	gbSettings := gobreaker.Settings{
		Name:        "SpreadExecutorCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerExecutor{
		executor: executor,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// ExecuteSpreadExit wraps the underlying executor call with the circuit breaker.
// A nil fill without an error counts as a failure so repeated no-fills trip the breaker.
func (c *CircuitBreakerExecutor) ExecuteSpreadExit(ctx context.Context, spread models.VerticalSpread,
	limitPrice, maxSlippage float64) (*models.OrderFill, error) {
	return execCircuitBreaker(c.breaker, c.executor, func(e SpreadExecutor) (*models.OrderFill, error) {
		fill, err := e.ExecuteSpreadExit(ctx, spread, limitPrice, maxSlippage)
		if err == nil && fill == nil {
			return nil, ErrRejected
		}
		return fill, err
	})
}

// State reports the breaker state.
func (c *CircuitBreakerExecutor) State() gobreaker.State {
	return c.breaker.State()
}
