package broker

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of Client, exported so daemon, pnl, and rules
// tests share one implementation.
type MockClient struct {
	mock.Mock
}

// NewMockClient returns a fresh mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// GetPosition implements Client.
func (m *MockClient) GetPosition(ctx context.Context, contractID string) (*Position, error) {
	args := m.Called(ctx, contractID)
	pos, _ := args.Get(0).(*Position)
	return pos, args.Error(1)
}

// GetAllPositions implements Client.
func (m *MockClient) GetAllPositions(ctx context.Context) ([]Position, error) {
	args := m.Called(ctx)
	positions, _ := args.Get(0).([]Position)
	return positions, args.Error(1)
}

// GetPortfolioPnL implements Client.
func (m *MockClient) GetPortfolioPnL(ctx context.Context) (*PortfolioPnL, error) {
	args := m.Called(ctx)
	pnl, _ := args.Get(0).(*PortfolioPnL)
	return pnl, args.Error(1)
}

// GetPerformanceMetrics implements Client.
func (m *MockClient) GetPerformanceMetrics(ctx context.Context, since time.Time) (*PerformanceMetrics, error) {
	args := m.Called(ctx, since)
	metrics, _ := args.Get(0).(*PerformanceMetrics)
	return metrics, args.Error(1)
}

// ClosePosition implements Client.
func (m *MockClient) ClosePosition(ctx context.Context, contractID string) (*CloseResponse, error) {
	args := m.Called(ctx, contractID)
	resp, _ := args.Get(0).(*CloseResponse)
	return resp, args.Error(1)
}

// GetCurrentPrice implements Client.
func (m *MockClient) GetCurrentPrice(ctx context.Context, contractID string) (float64, error) {
	args := m.Called(ctx, contractID)
	price, _ := args.Get(0).(float64)
	return price, args.Error(1)
}
