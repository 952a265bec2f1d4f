package broker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_sentinel/internal/models"
)

// ctxTokens fails token fetches once the context is cancelled, letting tests
// drive Run to its shutdown path without a live hub.
type ctxTokens struct{}

func (ctxTokens) Token(ctx context.Context) (string, error) {
	return "", ctx.Err()
}

func newTestStream() *Stream {
	return NewStream("wss://rtc.example/hubs/user", nil, 1, testLogger())
}

func TestNormalizeUserTrade(t *testing.T) {
	s := newTestStream()
	payload := json.RawMessage(`{
		"contractId": "CON.F.US.MNQ.U25",
		"side": 1,
		"size": 2,
		"price": 18000.25
	}`)

	evt, ok := s.normalize("GatewayUserTrade", payload)
	require.True(t, ok)
	assert.Equal(t, models.EventOrderFilled, evt.Kind)
	require.NotNil(t, evt.Fill)
	assert.Equal(t, models.SideSell, evt.Fill.Side)
	assert.Equal(t, 2, evt.Fill.Size)
	assert.InDelta(t, 18000.25, evt.Fill.FilledPrice, 1e-9)
}

func TestNormalizeVoidedTradeDropped(t *testing.T) {
	s := newTestStream()
	_, ok := s.normalize("GatewayUserTrade", json.RawMessage(`{"contractId":"c","voided":true}`))
	assert.False(t, ok)
}

func TestNormalizePositionUpdate(t *testing.T) {
	s := newTestStream()
	payload := json.RawMessage(`{
		"contractId": "CON.F.US.MNQ.U25",
		"size": 3,
		"averagePrice": 18010.0,
		"type": 2
	}`)

	evt, ok := s.normalize("GatewayUserPosition", payload)
	require.True(t, ok)
	assert.Equal(t, models.EventPositionUpdated, evt.Kind)
	require.NotNil(t, evt.Position)
	assert.Equal(t, models.Short, evt.Position.Type)
}

func TestNormalizeZeroSizePositionBecomesClose(t *testing.T) {
	s := newTestStream()
	payload := json.RawMessage(`{"contractId": "CON.F.US.MNQ.U25", "size": 0, "pnl": -42.5}`)

	evt, ok := s.normalize("GatewayUserPosition", payload)
	require.True(t, ok)
	assert.Equal(t, models.EventPositionClosed, evt.Kind)
	require.NotNil(t, evt.Closed)
	assert.InDelta(t, -42.5, evt.Closed.Pnl, 1e-9)
}

func TestNormalizeQuote(t *testing.T) {
	s := newTestStream()
	evt, ok := s.normalize("GatewayQuote", json.RawMessage(`{"symbol":"MNQ","last":18001.0}`))
	require.True(t, ok)
	assert.Equal(t, models.EventQuote, evt.Kind)
}

func TestNormalizeUnknownTarget(t *testing.T) {
	s := newTestStream()
	_, ok := s.normalize("GatewayUserAccount", json.RawMessage(`{}`))
	assert.False(t, ok)
}

func TestSplitFrames(t *testing.T) {
	data := []byte("{\"a\":1}\x1e{\"b\":2}\x1e")
	frames := splitFrames(data)
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"a":1}`, string(frames[0]))
	assert.JSONEq(t, `{"b":2}`, string(frames[1]))

	assert.Empty(t, splitFrames([]byte{0x1e}))
}

func TestInjectAfterShutdownReturnsError(t *testing.T) {
	s := NewStream("wss://rtc.example/hubs/user", ctxTokens{}, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Error(t, <-done)

	// A close-confirmation poll armed just before shutdown must get an error,
	// not a panic on the closed channel.
	err := s.Inject(context.Background(), models.Event{
		Kind:     models.EventPositionUpdated,
		Position: &models.PositionUpdate{ContractID: "CON.F.US.MNQ.U25", Size: 0},
	})
	require.ErrorIs(t, err, ErrStreamClosed)

	_, open := <-s.Events()
	assert.False(t, open)
}

func TestQuoteDroppedWhenChannelFull(t *testing.T) {
	s := newTestStream()
	quote := json.RawMessage(`{"symbol":"MNQ","last":1.0}`)
	for i := 0; i < streamBufferSize+10; i++ {
		frame, err := json.Marshal(hubMessage{
			Type:      msgInvocation,
			Target:    "GatewayQuote",
			Arguments: []json.RawMessage{quote},
		})
		require.NoError(t, err)
		s.handleFrame(context.Background(), "conn", frame)
	}
	// Overflow quotes were dropped without blocking.
	assert.Len(t, s.events, streamBufferSize)
}
