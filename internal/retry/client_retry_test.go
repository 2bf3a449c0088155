package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/flyexit/internal/broker"
	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/router"
)

// --- Test helpers ---

type fakeExiter struct {
	callCount int32

	// failures are returned in order; once exhausted, attempts succeed
	failures []error
	// block makes every attempt wait for ctx to end
	block bool
}

func (f *fakeExiter) ExitButterfly(ctx context.Context, pos *models.ButterflyPosition,
	_ models.MarketSnapshot, _ broker.SpreadExecutor) *models.ExitResult {
	n := int(atomic.AddInt32(&f.callCount, 1))
	res := &models.ExitResult{AttemptID: fmt.Sprintf("attempt-%d", n), ExitMethod: models.ExitMethodSplitVerticals}
	if pos != nil {
		res.PositionID = pos.ID()
	}

	if f.block {
		<-ctx.Done()
		res.Err = fmt.Errorf("%w on spread 1: %w", router.ErrNoFill, ctx.Err())
		res.ErrorMessage = res.Err.Error()
		return res
	}
	if n <= len(f.failures) {
		res.Err = f.failures[n-1]
		res.ErrorMessage = res.Err.Error()
		return res
	}
	res.Success = true
	res.RealizedPnL = 100
	return res
}

func (f *fakeExiter) calls() int { return int(atomic.LoadInt32(&f.callCount)) }

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        2 * time.Second,
	}
}

func newTestPosition(t *testing.T) *models.ButterflyPosition {
	t.Helper()
	expiry := time.Date(2025, 10, 17, 20, 0, 0, 0, time.UTC)
	leg := func(side models.Side, strike float64, qty int) models.OptionLeg {
		return models.OptionLeg{Kind: models.KindCall, Side: side, Strike: strike, Quantity: qty, Expiry: expiry, EntryPremium: 1}
	}
	pos, err := models.NewButterflyPosition("pos-abc-123", "ABC", []models.OptionLeg{
		leg(models.SideLong, 95, 1), leg(models.SideShort, 100, 2), leg(models.SideLong, 105, 1),
	}, 100, expiry.AddDate(0, 0, -10), nil)
	if err != nil {
		t.Fatal(err)
	}
	return pos
}

var noFill = fmt.Errorf("failed to fill first vertical spread: %w on spread 1: %w", router.ErrNoFill, broker.ErrRejected)

// --- Tests ---

func TestNewClient_ConfigSanitizationAndDefaults(t *testing.T) {
	c := NewClient(&fakeExiter{}, nil, Config{MaxRetries: -1})

	if c.logger == nil {
		t.Fatalf("expected logger to be non-nil (defaulted)")
	}
	if c.config != DefaultConfig {
		t.Fatalf("expected sanitized config %+v, got %+v", DefaultConfig, c.config)
	}

	c = NewClient(&fakeExiter{}, nil, Config{MaxRetries: 0, InitialBackoff: time.Second, MaxBackoff: time.Millisecond, Timeout: time.Minute})
	if c.config.MaxRetries != 0 {
		t.Errorf("MaxRetries 0 must be kept, got %d", c.config.MaxRetries)
	}
	if c.config.MaxBackoff != time.Second {
		t.Errorf("MaxBackoff should be raised to InitialBackoff, got %v", c.config.MaxBackoff)
	}

	if c := NewClient(&fakeExiter{}, nil); c.config != DefaultConfig {
		t.Errorf("expected DefaultConfig without overrides, got %+v", c.config)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{noFill, true},
		{fmt.Errorf("time between spreads (700ms) exceeded limit (500ms): %w", router.ErrTimingBudget), true},
		{fmt.Errorf("%w on spread 1: %w", router.ErrNoFill, gobreaker.ErrOpenState), true},
		{gobreaker.ErrTooManyRequests, true},
		{fmt.Errorf("%w on spread 2: %w", router.ErrNoFill, router.ErrSlippageExceeded), false},
		{router.ErrMissingQuote, false},
		{router.ErrNotDecomposable, false},
		{fmt.Errorf("%w on spread 1: %w", router.ErrNoFill, broker.ErrNotImplemented), false},
		{errors.New("position is required"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestCalculateNextBackoff_GeneralBehavior(t *testing.T) {
	c := NewClient(&fakeExiter{}, nil, Config{MaxRetries: 1, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 400 * time.Millisecond, Timeout: time.Minute})

	for i := 0; i < 20; i++ {
		got := c.calculateNextBackoff(100 * time.Millisecond)
		// 150ms grown, up to 25% jitter on top
		if got < 150*time.Millisecond || got >= 150*time.Millisecond+150*time.Millisecond/4 {
			t.Fatalf("backoff %v outside [150ms, 187.5ms)", got)
		}
	}

	capped := c.calculateNextBackoff(time.Second)
	if capped < 400*time.Millisecond || capped >= 500*time.Millisecond {
		t.Fatalf("capped backoff %v outside [400ms, 500ms)", capped)
	}
}

func TestExitWithRetry_SucceedsFirstAttempt(t *testing.T) {
	ex := &fakeExiter{}
	c := NewClient(ex, nil, fastConfig())

	attempts, err := c.ExitWithRetry(context.Background(), newTestPosition(t), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 1 || !attempts[0].Success {
		t.Fatalf("expected one successful attempt, got %+v", attempts)
	}
	if ex.calls() != 1 {
		t.Errorf("expected 1 call, got %d", ex.calls())
	}
}

func TestExitWithRetry_RetriesOnTransientAndThenSucceeds(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	ex := &fakeExiter{failures: []error{noFill, fmt.Errorf("total latency: %w", router.ErrTimingBudget)}}
	c := NewClient(ex, logger, fastConfig())

	attempts, err := c.ExitWithRetry(context.Background(), newTestPosition(t), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 3 || ex.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls %d)", len(attempts), ex.calls())
	}
	if attempts[0].Success || attempts[1].Success || !attempts[2].Success {
		t.Errorf("unexpected attempt outcomes")
	}

	warned := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned++
			if e.Data["position_id"] != "pos-abc-123" {
				t.Errorf("warn entry missing position_id: %v", e.Data)
			}
		}
	}
	if warned != 2 {
		t.Errorf("expected 2 warnings, got %d", warned)
	}
}

func TestExitWithRetry_FailFastOnNonTransient(t *testing.T) {
	for _, permanent := range []error{router.ErrMissingQuote, router.ErrNotDecomposable, fmt.Errorf("%w on spread 1: %w", router.ErrNoFill, router.ErrSlippageExceeded),
		fmt.Errorf("%w on spread 1: %w", router.ErrNoFill, broker.ErrNotImplemented)} {
		ex := &fakeExiter{failures: []error{permanent, permanent}}
		c := NewClient(ex, nil, fastConfig())

		attempts, err := c.ExitWithRetry(context.Background(), newTestPosition(t), nil, nil)
		if !errors.Is(err, permanent) || errors.Is(err, ErrRetriesExhausted) {
			t.Errorf("expected permanent %v, got %v", permanent, err)
		}
		if len(attempts) != 1 || ex.calls() != 1 {
			t.Errorf("%v: expected a single attempt, got %d", permanent, ex.calls())
		}
	}
}

func TestExitWithRetry_ExhaustsRetries(t *testing.T) {
	ex := &fakeExiter{failures: []error{noFill, noFill, noFill, noFill, noFill}}
	cfg := fastConfig()
	cfg.MaxRetries = 2
	c := NewClient(ex, nil, cfg)

	attempts, err := c.ExitWithRetry(context.Background(), newTestPosition(t), nil, nil)
	if !errors.Is(err, router.ErrNoFill) || !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected exhausted ErrNoFill, got %v", err)
	}
	if len(attempts) != 3 || ex.calls() != 3 {
		t.Errorf("expected MaxRetries+1 = 3 attempts, got %d", ex.calls())
	}
}

func TestExitWithRetry_NilPosition(t *testing.T) {
	r, err := router.NewRouter(config.DefaultRiskConfig(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(r, nil, fastConfig())

	attempts, err := c.ExitWithRetry(context.Background(), nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for nil position")
	}
	if len(attempts) != 1 || attempts[0].Success {
		t.Errorf("expected one failed attempt, got %+v", attempts)
	}
}

func TestExitWithRetry_ContextCanceled(t *testing.T) {
	ex := &fakeExiter{}
	c := NewClient(ex, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := c.ExitWithRetry(ctx, newTestPosition(t), nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(attempts) != 0 || ex.calls() != 0 {
		t.Errorf("expected no attempts on a canceled context, got %d", ex.calls())
	}
}

func TestExitWithRetry_TimeoutDuringBackoff(t *testing.T) {
	ex := &fakeExiter{failures: []error{noFill, noFill}}
	c := NewClient(ex, nil, Config{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: time.Second, Timeout: 20 * time.Millisecond})

	start := time.Now()
	attempts, err := c.ExitWithRetry(context.Background(), newTestPosition(t), nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("backoff was not interrupted by the timeout")
	}
	if len(attempts) != 1 {
		t.Errorf("expected a single attempt before the timeout, got %d", len(attempts))
	}
}

func TestExitWithRetry_TimeoutBoundsAttempt(t *testing.T) {
	ex := &fakeExiter{block: true}
	c := NewClient(ex, nil, Config{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Timeout: 20 * time.Millisecond})

	attempts, err := c.ExitWithRetry(context.Background(), newTestPosition(t), nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(attempts) != 1 || ex.calls() != 1 {
		t.Errorf("expected the timeout to stop after the blocked attempt, got %d", ex.calls())
	}
}
