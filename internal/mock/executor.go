package mock

import (
	"context"

	testifymock "github.com/stretchr/testify/mock"

	"github.com/eddiefleurent/flyexit/internal/models"
)

// MockExecutor is a testify mock of broker.SpreadExecutor.
type MockExecutor struct {
	testifymock.Mock
}

// NewMockExecutor returns an executor with no expectations set.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// ExecuteSpreadExit records the call and returns the configured fill.
func (m *MockExecutor) ExecuteSpreadExit(ctx context.Context, spread models.VerticalSpread,
	limitPrice, maxSlippage float64) (*models.OrderFill, error) {
	args := m.Called(ctx, spread, limitPrice, maxSlippage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OrderFill), args.Error(1)
}

// LongStrike matches a spread argument by the strike of its long leg.
func LongStrike(strike float64) interface{} {
	return testifymock.MatchedBy(func(s models.VerticalSpread) bool {
		return models.SameStrike(s.Long.Strike, strike)
	})
}
