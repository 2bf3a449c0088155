// Package retry re-drives failed butterfly exits with jittered exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/flyexit/internal/broker"
	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/logging"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/router"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Timeout:        2 * time.Minute,
}

// ConfigFrom reads the retry section of the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.GetRetryInitialBackoff(),
		MaxBackoff:     cfg.GetRetryMaxBackoff(),
		Timeout:        cfg.GetRetryTimeout(),
	}
}

// Exiter runs one exit attempt. *router.Router satisfies it.
type Exiter interface {
	ExitButterfly(ctx context.Context, pos *models.ButterflyPosition,
		snapshot models.MarketSnapshot, exec broker.SpreadExecutor) *models.ExitResult
}

var _ Exiter = (*router.Router)(nil)

type Client struct {
	exiter Exiter
	logger logrus.FieldLogger
	config Config
}

func NewClient(exiter Exiter, logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = sanitize(config[0])
	}

	return &Client{
		exiter: exiter,
		logger: logging.OrDiscard(logger),
		config: cfg,
	}
}

func sanitize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	return cfg
}

// ExitWithRetry runs exit attempts until one succeeds, a failure is not transient, retries
// run out or the timeout expires. It returns every attempt in order; the last one is the
// final outcome. The error is nil only when the last attempt succeeded, and wraps
// ErrRetriesExhausted when every allowed attempt failed transiently.
func (c *Client) ExitWithRetry(
	ctx context.Context,
	pos *models.ButterflyPosition,
	snapshot models.MarketSnapshot,
	exec broker.SpreadExecutor,
) ([]*models.ExitResult, error) {
	exitCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var attempts []*models.ExitResult
	backoff := c.config.InitialBackoff
	log := c.logger.WithField("position_id", positionID(pos))

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := exitCtx.Err(); err != nil {
			return attempts, fmt.Errorf("exit operation stopped before attempt %d: %w", attempt+1, err)
		}

		log.WithField("attempt", attempt+1).Debugf("Exit attempt %d/%d", attempt+1, c.config.MaxRetries+1)

		res := c.exiter.ExitButterfly(exitCtx, pos, snapshot, exec)
		attempts = append(attempts, res)
		if res.Success {
			return attempts, nil
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"cause":   router.FailureCause(res.Err),
		}).Warnf("Exit attempt failed: %s", res.ErrorMessage)

		if !IsTransient(res.Err) {
			return attempts, fmt.Errorf("exit attempt %d failed permanently: %w", attempt+1, lastErr(res))
		}
		if attempt == c.config.MaxRetries {
			break
		}

		log.Debugf("Transient failure, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-exitCtx.Done():
			return attempts, fmt.Errorf("exit operation timed out during backoff: %w", exitCtx.Err())
		}
	}

	last := attempts[len(attempts)-1]
	return attempts, fmt.Errorf("%w: failed to exit position after %d attempts: %w",
		ErrRetriesExhausted, len(attempts), lastErr(last))
}

func lastErr(res *models.ExitResult) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.ErrorMessage)
}

func positionID(pos *models.ButterflyPosition) string {
	if pos == nil {
		return ""
	}
	return pos.ID()
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// IsTransient reports whether a failed attempt is worth repeating. A missed fill, a blown
// timing budget and an open breaker can clear on their own. Structural problems, missing
// quotes, slippage breaches and an executor with no live order path cannot.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, router.ErrNotDecomposable), errors.Is(err, router.ErrMissingQuote),
		errors.Is(err, router.ErrSlippageExceeded), errors.Is(err, broker.ErrNotImplemented):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return true
	case errors.Is(err, router.ErrNoFill), errors.Is(err, router.ErrTimingBudget):
		return true
	}
	return false
}
