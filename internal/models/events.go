// Package models defines the normalized event types the daemon consumes and
// the position primitives shared across the tracker, P&L engine, and rules.
package models

import (
	"strings"
	"time"
)

// EventKind identifies the broker event variants the daemon understands.
type EventKind string

const (
	// EventOrderFilled is emitted when an order (or a partial of one) fills.
	EventOrderFilled EventKind = "order_filled"
	// EventPositionUpdated carries the broker's authoritative position snapshot.
	EventPositionUpdated EventKind = "position_updated"
	// EventPositionClosed is emitted when a position is reduced to zero.
	EventPositionClosed EventKind = "position_closed"
	// EventPositionPnl carries an incremental realized P&L figure.
	EventPositionPnl EventKind = "position_pnl_update"
	// EventQuote is a market data tick. Ingested for the technical log only;
	// never audited and never fed to rules.
	EventQuote EventKind = "quote_update"
)

// OrderSide is the broker's wire encoding of order direction.
type OrderSide int

const (
	// SideBuy is a buy order (0 on the wire).
	SideBuy OrderSide = 0
	// SideSell is a sell order (1 on the wire).
	SideSell OrderSide = 1
)

// String returns the lowercase human form used in audit messages.
func (s OrderSide) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// PositionSide is the internal encoding of an open lot's direction.
type PositionSide int

const (
	// Long means the lot profits when price rises (1 on the wire).
	Long PositionSide = 1
	// Short means the lot profits when price falls (2 on the wire).
	Short PositionSide = 2
)

// String returns the uppercase human form used in logs.
func (s PositionSide) String() string {
	if s == Short {
		return "SHORT"
	}
	return "LONG"
}

// OrderFill is the payload of an EventOrderFilled event.
type OrderFill struct {
	ContractID  string    `json:"contractId"`
	SymbolID    string    `json:"symbolId"`
	Side        OrderSide `json:"side"`
	Size        int       `json:"size"`
	FilledPrice float64   `json:"filledPrice"`
}

// PositionUpdate is the payload of an EventPositionUpdated event.
// Size is signed; zero means the position is flat (a possible silent close).
type PositionUpdate struct {
	ContractID   string       `json:"contractId"`
	Symbol       string       `json:"symbol"`
	Size         int          `json:"size"`
	AveragePrice float64      `json:"averagePrice"`
	Type         PositionSide `json:"type"`
	Pnl          float64      `json:"pnl"`
}

// PositionClosed is the payload of an EventPositionClosed event. Pnl is
// frequently zero on the wire; the P&L engine then falls back to broker
// queries or lot reconstruction.
type PositionClosed struct {
	ContractID   string  `json:"contractId"`
	Pnl          float64 `json:"pnl"`
	AveragePrice float64 `json:"averagePrice"`
}

// PnlUpdate is the payload of an EventPositionPnl event.
type PnlUpdate struct {
	ContractID  string  `json:"contractId"`
	RealizedPnl float64 `json:"realized_pnl"`
}

// Quote is the payload of an EventQuote event.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
}

// Event is the normalized internal form of a broker notification. Exactly one
// payload pointer is non-nil, matching Kind. Synthetic is set on events the
// daemon feeds back to itself (close-confirmation polls).
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Synthetic bool

	Fill     *OrderFill
	Position *PositionUpdate
	Closed   *PositionClosed
	Pnl      *PnlUpdate
	Quote    *Quote
}

// ContractID returns the contract the event refers to, or "" for quotes.
func (e Event) ContractID() string {
	switch {
	case e.Fill != nil:
		return e.Fill.ContractID
	case e.Position != nil:
		return e.Position.ContractID
	case e.Closed != nil:
		return e.Closed.ContractID
	case e.Pnl != nil:
		return e.Pnl.ContractID
	}
	return ""
}

// SymbolFromContract derives the short display symbol from a contract ID such
// as "CON.F.US.MNQ.Z25" (second-to-last dot segment). Display only; the
// contract ID itself is treated as opaque everywhere else.
func SymbolFromContract(contractID string) string {
	parts := strings.Split(contractID, ".")
	if len(parts) < 2 {
		return contractID
	}
	return parts[len(parts)-2]
}
