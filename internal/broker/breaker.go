package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker around gateway calls.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// BreakerClient wraps a Client with a circuit breaker so a degraded gateway
// fails fast instead of stacking timeouts under the dispatcher.
type BreakerClient struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
}

func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	client Client,
	fn func(Client) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(client) })
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

// NewBreakerClient wraps client with default settings: trip after 5
// consecutive failures, retry after 30s.
func NewBreakerClient(client Client, log *logrus.Logger) *BreakerClient {
	return NewBreakerClientWithSettings(client, log, BreakerSettings{
		MaxRequests:         2,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	})
}

// NewBreakerClientWithSettings wraps client with custom breaker settings.
func NewBreakerClientWithSettings(client Client, log *logrus.Logger, settings BreakerSettings) *BreakerClient {
	gbSettings := gobreaker.Settings{
		Name:        "projectx-gateway",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("gateway circuit breaker state change")
		},
	}
	return &BreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetPosition implements Client.
func (c *BreakerClient) GetPosition(ctx context.Context, contractID string) (*Position, error) {
	return execBreaker(c.breaker, c.client, func(cl Client) (*Position, error) {
		return cl.GetPosition(ctx, contractID)
	})
}

// GetAllPositions implements Client.
func (c *BreakerClient) GetAllPositions(ctx context.Context) ([]Position, error) {
	return execBreaker(c.breaker, c.client, func(cl Client) ([]Position, error) {
		return cl.GetAllPositions(ctx)
	})
}

// GetPortfolioPnL implements Client.
func (c *BreakerClient) GetPortfolioPnL(ctx context.Context) (*PortfolioPnL, error) {
	return execBreaker(c.breaker, c.client, func(cl Client) (*PortfolioPnL, error) {
		return cl.GetPortfolioPnL(ctx)
	})
}

// GetPerformanceMetrics implements Client.
func (c *BreakerClient) GetPerformanceMetrics(ctx context.Context, since time.Time) (*PerformanceMetrics, error) {
	return execBreaker(c.breaker, c.client, func(cl Client) (*PerformanceMetrics, error) {
		return cl.GetPerformanceMetrics(ctx, since)
	})
}

// ClosePosition implements Client. Closes are never shed: when the breaker is
// open the call goes straight to the gateway, because a flatten during an
// outage is exactly the call worth attempting.
func (c *BreakerClient) ClosePosition(ctx context.Context, contractID string) (*CloseResponse, error) {
	if c.breaker.State() == gobreaker.StateOpen {
		return c.client.ClosePosition(ctx, contractID)
	}
	return execBreaker(c.breaker, c.client, func(cl Client) (*CloseResponse, error) {
		return cl.ClosePosition(ctx, contractID)
	})
}

// GetCurrentPrice implements Client.
func (c *BreakerClient) GetCurrentPrice(ctx context.Context, contractID string) (float64, error) {
	return execBreaker(c.breaker, c.client, func(cl Client) (float64, error) {
		return cl.GetCurrentPrice(ctx, contractID)
	})
}
