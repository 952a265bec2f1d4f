package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	inner := NewMockClient()
	inner.On("GetAllPositions", mock.Anything).Return(nil, errors.New("gateway down"))

	bc := NewBreakerClientWithSettings(inner, testLogger(), BreakerSettings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 3,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := bc.GetAllPositions(ctx)
		require.Error(t, err)
	}

	// The breaker is now open: calls fail fast without reaching the client.
	_, err := bc.GetAllPositions(ctx)
	require.Error(t, err)
	inner.AssertNumberOfCalls(t, "GetAllPositions", 3)
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	inner := NewMockClient()
	inner.On("GetPosition", mock.Anything, "c1").
		Return(&Position{ContractID: "c1", Size: 2}, nil)

	bc := NewBreakerClient(inner, testLogger())
	pos, err := bc.GetPosition(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 2, pos.Size)
}

func TestClosePositionBypassesOpenBreaker(t *testing.T) {
	inner := NewMockClient()
	inner.On("GetAllPositions", mock.Anything).Return(nil, errors.New("gateway down"))
	inner.On("ClosePosition", mock.Anything, "c1").
		Return(&CloseResponse{Success: true}, nil)

	bc := NewBreakerClientWithSettings(inner, testLogger(), BreakerSettings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 1,
	})

	ctx := context.Background()
	_, err := bc.GetAllPositions(ctx)
	require.Error(t, err)

	// Breaker open, but closes still reach the gateway.
	resp, err := bc.ClosePosition(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
}
