package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_sentinel/internal/models"
)

const (
	streamBufferSize = 256
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	maxReconnectWait = 30 * time.Second

	// recordSeparator terminates every SignalR JSON frame.
	recordSeparator = 0x1e
)

// tokenSource provides the session token for the hub handshake. Satisfied by
// *ProjectXClient.
type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Stream maintains the gateway's realtime user hub connection and converts
// hub invocations into normalized events. It reconnects with exponential
// backoff and resubscribes after every reconnect.
//
// Events are delivered on a bounded channel. Trading events block the reader
// until the dispatcher drains them (lossless by construction); quote events
// are dropped when the channel is full.
type Stream struct {
	hubURL    string
	tokens    tokenSource
	accountID int
	log       *logrus.Logger

	// sendMu orders Inject against the close of events when Run returns, so
	// a late injector gets an error instead of a send on a closed channel.
	sendMu sync.Mutex
	closed bool
	events chan models.Event
}

// ErrStreamClosed is returned by Inject after Run has shut the stream down.
var ErrStreamClosed = errors.New("event stream closed")

// NewStream creates a stream client for the user hub at hubURL.
func NewStream(hubURL string, tokens tokenSource, accountID int, log *logrus.Logger) *Stream {
	return &Stream{
		hubURL:    hubURL,
		tokens:    tokens,
		accountID: accountID,
		log:       log,
		events:    make(chan models.Event, streamBufferSize),
	}
}

// Events returns the normalized event channel. Closed when Run returns.
func (s *Stream) Events() <-chan models.Event { return s.events }

// Inject queues a synthetic event behind whatever the stream has already
// delivered. Used for close-confirmation polls. Returns ErrStreamClosed once
// Run has shut down.
func (s *Stream) Inject(ctx context.Context, evt models.Event) error {
	evt.Synthetic = true
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	select {
	case s.events <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeEvents marks the stream closed before closing the channel; Inject
// holds sendMu across its send, so no injector can race the close.
func (s *Stream) closeEvents() {
	s.sendMu.Lock()
	s.closed = true
	close(s.events)
	s.sendMu.Unlock()
}

// Validate dials the hub, completes the protocol handshake, and disconnects
// without subscribing. Used by the validate command as a connectivity smoke
// test.
func (s *Stream) Validate(ctx context.Context) error {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("stream auth: %w", err)
	}
	u, err := url.Parse(s.hubURL)
	if err != nil {
		return fmt.Errorf("hub url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", tok)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing user hub: %w", err)
	}
	defer conn.Close()
	return s.handshake(conn)
}

// Run connects and maintains the hub connection until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	defer s.closeEvents()
	backoff := time.Second

	for {
		start := time.Now()
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that held for a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		s.log.WithFields(logrus.Fields{
			"error":   err,
			"backoff": backoff.String(),
		}).Warn("user hub disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("stream auth: %w", err)
	}

	u, err := url.Parse(s.hubURL)
	if err != nil {
		return fmt.Errorf("hub url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", tok)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing user hub: %w", err)
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.log.WithField("conn_id", connID).Info("user hub connected")

	if err := s.handshake(conn); err != nil {
		return err
	}
	if err := s.subscribe(conn); err != nil {
		return err
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading hub frame: %w", err)
		}
		s.handleFrames(ctx, connID, data)
	}
}

// handshake negotiates the hub's JSON protocol.
func (s *Stream) handshake(conn *websocket.Conn) error {
	if err := s.writeFrame(conn, map[string]any{"protocol": "json", "version": 1}); err != nil {
		return fmt.Errorf("hub handshake: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	// The handshake ack is an empty object (or an error message).
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("hub handshake ack: %w", err)
	}
	var ack struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(trimSeparator(data), &ack); err == nil && ack.Error != "" {
		return fmt.Errorf("hub handshake rejected: %s", ack.Error)
	}
	return nil
}

// subscribe invokes the account-scoped subscriptions the daemon consumes.
func (s *Stream) subscribe(conn *websocket.Conn) error {
	for _, target := range []string{"SubscribeOrders", "SubscribePositions", "SubscribeTrades"} {
		inv := map[string]any{
			"type":      1,
			"target":    target,
			"arguments": []any{s.accountID},
		}
		if err := s.writeFrame(conn, inv); err != nil {
			return fmt.Errorf("subscribing %s: %w", target, err)
		}
	}
	return nil
}

func (s *Stream) writeFrame(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, append(data, recordSeparator))
}

// handleFrames splits a websocket message into SignalR frames and routes each.
func (s *Stream) handleFrames(ctx context.Context, connID string, data []byte) {
	for _, frame := range splitFrames(data) {
		s.handleFrame(ctx, connID, frame)
	}
}

type hubMessage struct {
	Type      int               `json:"type"`
	Target    string            `json:"target"`
	Arguments []json.RawMessage `json:"arguments"`
}

const (
	msgInvocation = 1
	msgPing       = 6
)

func (s *Stream) handleFrame(ctx context.Context, connID string, frame []byte) {
	var msg hubMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.log.WithError(err).WithField("conn_id", connID).Debug("unparseable hub frame")
		return
	}

	switch msg.Type {
	case msgPing:
		// Keepalive only; the read deadline does the liveness accounting.
		return
	case msgInvocation:
	default:
		return
	}

	if len(msg.Arguments) == 0 {
		return
	}
	payload := msg.Arguments[len(msg.Arguments)-1]

	evt, ok := s.normalize(msg.Target, payload)
	if !ok {
		s.log.WithFields(logrus.Fields{
			"conn_id": connID,
			"target":  msg.Target,
		}).Debug("unknown hub invocation")
		return
	}

	if evt.Kind == models.EventQuote {
		// Quotes are droppable under backpressure.
		select {
		case s.events <- evt:
		default:
			s.log.Debug("quote dropped, event channel full")
		}
		return
	}
	select {
	case s.events <- evt:
	case <-ctx.Done():
	}
}

// normalize maps a hub invocation onto a typed event. Unknown targets return
// ok=false and are logged at debug by the caller.
func (s *Stream) normalize(target string, payload json.RawMessage) (models.Event, bool) {
	now := time.Now()
	switch target {
	case "GatewayUserTrade":
		var tr struct {
			ContractID    string   `json:"contractId"`
			SymbolID      string   `json:"symbolId"`
			Side          int      `json:"side"`
			Size          int      `json:"size"`
			Price         float64  `json:"price"`
			ProfitAndLoss *float64 `json:"profitAndLoss"`
			Voided        bool     `json:"voided"`
		}
		if err := json.Unmarshal(payload, &tr); err != nil || tr.Voided {
			return models.Event{}, false
		}
		return models.Event{
			Kind:      models.EventOrderFilled,
			Timestamp: now,
			Fill: &models.OrderFill{
				ContractID:  tr.ContractID,
				SymbolID:    tr.SymbolID,
				Side:        models.OrderSide(tr.Side),
				Size:        tr.Size,
				FilledPrice: tr.Price,
			},
		}, true
	case "GatewayUserPosition":
		var pos models.PositionUpdate
		if err := json.Unmarshal(payload, &pos); err != nil {
			return models.Event{}, false
		}
		if pos.Size == 0 {
			return models.Event{
				Kind:      models.EventPositionClosed,
				Timestamp: now,
				Closed: &models.PositionClosed{
					ContractID:   pos.ContractID,
					Pnl:          pos.Pnl,
					AveragePrice: pos.AveragePrice,
				},
			}, true
		}
		return models.Event{
			Kind:      models.EventPositionUpdated,
			Timestamp: now,
			Position:  &pos,
		}, true
	case "GatewayUserOrder":
		// Order lifecycle noise; fills arrive as trades.
		return models.Event{}, false
	case "GatewayQuote":
		var q models.Quote
		if err := json.Unmarshal(payload, &q); err != nil {
			return models.Event{}, false
		}
		return models.Event{
			Kind:      models.EventQuote,
			Timestamp: now,
			Quote:     &q,
		}, true
	}
	return models.Event{}, false
}

func splitFrames(data []byte) [][]byte {
	var frames [][]byte
	start := 0
	for i, b := range data {
		if b == recordSeparator {
			if i > start {
				frames = append(frames, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		frames = append(frames, data[start:])
	}
	return frames
}

func trimSeparator(data []byte) []byte {
	for len(data) > 0 && data[len(data)-1] == recordSeparator {
		data = data[:len(data)-1]
	}
	return data
}
