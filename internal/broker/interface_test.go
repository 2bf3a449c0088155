package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/models"
)

// MockExecutor is a scripted SpreadExecutor for breaker tests.
type MockExecutor struct {
	err        error
	mu         sync.Mutex
	calls      int
	failAfter  int
	shouldFail bool
	nilFill    bool
}

func (m *MockExecutor) ExecuteSpreadExit(_ context.Context, _ models.VerticalSpread,
	limitPrice, _ float64) (*models.OrderFill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.shouldFail && m.calls > m.failAfter {
		if m.nilFill {
			return nil, nil
		}
		if m.err != nil {
			return nil, m.err
		}
		return nil, errors.New("mock executor failure")
	}
	return &models.OrderFill{FillPrice: limitPrice, FillTime: start}, nil
}

func (m *MockExecutor) setFail(v bool) {
	m.mu.Lock()
	m.shouldFail = v
	m.mu.Unlock()
}

func fastSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     0, // never reset counts while closed
		Timeout:      20 * time.Millisecond,
		MinRequests:  1,
		FailureRatio: 0.5,
	}
}

func TestNewCircuitBreakerExecutor(t *testing.T) {
	mock := &MockExecutor{}
	cb := NewCircuitBreakerExecutor(mock, nil)

	if cb.executor != mock {
		t.Error("CircuitBreakerExecutor.executor not set correctly")
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("new breaker should be closed, got %s", cb.State())
	}
}

func TestCircuitBreakerExecutor_PassesFillsThrough(t *testing.T) {
	cb := NewCircuitBreakerExecutor(&MockExecutor{}, nil)

	fill, err := cb.ExecuteSpreadExit(context.Background(), testSpread(), 275, 50)
	if err != nil {
		t.Fatalf("ExecuteSpreadExit failed: %v", err)
	}
	if fill == nil || fill.FillPrice != 275 {
		t.Fatalf("unexpected fill %+v", fill)
	}
}

func TestCircuitBreakerExecutor_TripsOnFailures(t *testing.T) {
	tests := []struct {
		name string
		mock *MockExecutor
	}{
		{"errors", &MockExecutor{shouldFail: true, failAfter: 3}},
		{"nil fills", &MockExecutor{shouldFail: true, failAfter: 3, nilFill: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreakerExecutorWithSettings(tt.mock, fastSettings(), nil)

			for i := 0; i < 3; i++ {
				if _, err := cb.ExecuteSpreadExit(context.Background(), testSpread(), 1, 1); err != nil {
					t.Fatalf("call %d should succeed: %v", i+1, err)
				}
			}
			for i := 0; i < 5; i++ {
				_, _ = cb.ExecuteSpreadExit(context.Background(), testSpread(), 1, 1)
			}

			if cb.State() != gobreaker.StateOpen {
				t.Fatalf("breaker should be open, got %s", cb.State())
			}
			_, err := cb.ExecuteSpreadExit(context.Background(), testSpread(), 1, 1)
			if !errors.Is(err, gobreaker.ErrOpenState) {
				t.Fatalf("expected ErrOpenState, got %v", err)
			}
		})
	}
}

func TestCircuitBreakerExecutor_NilFillIsRejected(t *testing.T) {
	cb := NewCircuitBreakerExecutor(&MockExecutor{shouldFail: true, nilFill: true}, nil)
	fill, err := cb.ExecuteSpreadExit(context.Background(), testSpread(), 1, 1)
	if fill != nil || !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v / %v", fill, err)
	}
}

func TestCircuitBreakerExecutor_RecoveryBehavior(t *testing.T) {
	mock := &MockExecutor{shouldFail: true}
	cb := NewCircuitBreakerExecutorWithSettings(mock, fastSettings(), nil)

	for i := 0; i < 3; i++ {
		_, _ = cb.ExecuteSpreadExit(context.Background(), testSpread(), 1, 1)
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("breaker should be open, got %s", cb.State())
	}

	deadline := time.After(200 * time.Millisecond)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for cb.State() != gobreaker.StateHalfOpen {
		select {
		case <-deadline:
			t.Fatal("breaker did not transition to half-open within timeout")
		case <-ticker.C:
		}
	}

	mock.setFail(false)
	if _, err := cb.ExecuteSpreadExit(context.Background(), testSpread(), 1, 1); err != nil {
		t.Fatalf("recovery call should succeed: %v", err)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("breaker should close after a successful half-open trial request, got %s", cb.State())
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	s := SettingsFromConfig(cfg)
	if s != DefaultCircuitBreakerSettings() {
		t.Fatalf("config defaults %+v should match breaker defaults %+v", s, DefaultCircuitBreakerSettings())
	}
}
