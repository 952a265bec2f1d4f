// Package tracker reconstructs per-contract open positions from the fill
// stream. A contract has at most one tracked lot; opposite-side fills reduce
// it and realize P&L, and a fill larger than the lot flips it (close-all,
// then reopen the remainder at the fill price).
//
// The tracker is not persisted. On restart it is rebuilt from the broker's
// authoritative position snapshots as they arrive.
package tracker

import (
	"github.com/eddiefleurent/scranton_sentinel/internal/models"
)

// Lot is one open position being tracked for a contract.
type Lot struct {
	AvgEntryPrice float64
	Size          int // absolute contract count, always > 0
	Side          models.PositionSide
}

// FillResult describes what a fill did to the tracked lot.
type FillResult struct {
	// RealizedPnl is the USD P&L booked by the closing portion, if any.
	RealizedPnl float64
	// ClosedSize is how many contracts of the prior lot were closed.
	ClosedSize int
	// Opened is true when the fill opened or enlarged a lot.
	Opened bool
	// Flipped is true when the fill closed the whole lot and reopened the
	// remainder on the other side.
	Flipped bool
	// Lot is the resulting lot; nil when the fill left the contract flat.
	Lot *Lot
}

// Tracker maintains the map of open lots. It is owned by the dispatcher
// goroutine and is not safe for concurrent use.
type Tracker struct {
	lots        map[string]Lot
	instruments *Instruments
}

// New creates an empty tracker using the given instrument metadata.
func New(instruments *Instruments) *Tracker {
	if instruments == nil {
		instruments = DefaultInstruments()
	}
	return &Tracker{
		lots:        make(map[string]Lot),
		instruments: instruments,
	}
}

// Lot returns the tracked lot for a contract.
func (t *Tracker) Lot(contractID string) (Lot, bool) {
	lot, ok := t.lots[contractID]
	return lot, ok
}

// Len returns the number of open lots.
func (t *Tracker) Len() int { return len(t.lots) }

// Snapshot returns a copy of the open lots keyed by contract ID.
func (t *Tracker) Snapshot() map[string]Lot {
	out := make(map[string]Lot, len(t.lots))
	for k, v := range t.lots {
		out[k] = v
	}
	return out
}

// Clear drops every tracked lot (daily session reset).
func (t *Tracker) Clear() {
	t.lots = make(map[string]Lot)
}

// Remove deletes and returns the lot for a contract, if tracked.
func (t *Tracker) Remove(contractID string) (Lot, bool) {
	lot, ok := t.lots[contractID]
	if ok {
		delete(t.lots, contractID)
	}
	return lot, ok
}

// PointValue exposes the instrument lookup for P&L reconstruction.
func (t *Tracker) PointValue(contractID string) float64 {
	return t.instruments.PointValue(contractID)
}

// ApplyFill folds an order fill into the tracked state and reports any
// realized P&L. Zero-size fills are ignored.
func (t *Tracker) ApplyFill(contractID string, side models.OrderSide, size int, price float64) FillResult {
	if size <= 0 {
		return FillResult{}
	}

	fillSide := models.Long
	if side == models.SideSell {
		fillSide = models.Short
	}

	old, exists := t.lots[contractID]
	if !exists {
		lot := Lot{AvgEntryPrice: price, Size: size, Side: fillSide}
		t.lots[contractID] = lot
		return FillResult{Opened: true, Lot: &lot}
	}

	if old.Side == fillSide {
		// Same-side add: weighted average entry.
		total := old.Size + size
		avg := (old.AvgEntryPrice*float64(old.Size) + price*float64(size)) / float64(total)
		lot := Lot{AvgEntryPrice: avg, Size: total, Side: old.Side}
		t.lots[contractID] = lot
		return FillResult{Opened: true, Lot: &lot}
	}

	// Opposite side: close some or all of the lot.
	pv := t.instruments.PointValue(contractID)
	closed := min(old.Size, size)
	pnl := realized(old, price, closed, pv)

	switch {
	case size < old.Size:
		lot := Lot{AvgEntryPrice: old.AvgEntryPrice, Size: old.Size - size, Side: old.Side}
		t.lots[contractID] = lot
		return FillResult{RealizedPnl: pnl, ClosedSize: closed, Lot: &lot}
	case size == old.Size:
		delete(t.lots, contractID)
		return FillResult{RealizedPnl: pnl, ClosedSize: closed}
	default:
		// Flip: the old lot closes entirely, the remainder opens on the
		// filling side at the fill price.
		lot := Lot{AvgEntryPrice: price, Size: size - old.Size, Side: fillSide}
		t.lots[contractID] = lot
		return FillResult{RealizedPnl: pnl, ClosedSize: closed, Opened: true, Flipped: true, Lot: &lot}
	}
}

// SyncPosition overwrites the tracked lot from the broker's authoritative
// position snapshot. A zero size is a close and is handled by the caller via
// Remove; Sync ignores it.
func (t *Tracker) SyncPosition(update models.PositionUpdate) {
	if update.Size == 0 {
		return
	}
	size := update.Size
	if size < 0 {
		size = -size
	}
	side := update.Type
	if side != models.Long && side != models.Short {
		side = models.Long
	}
	t.lots[update.ContractID] = Lot{
		AvgEntryPrice: update.AveragePrice,
		Size:          size,
		Side:          side,
	}
}

// realized books P&L for closing `size` contracts of lot at `price`.
func realized(lot Lot, price float64, size int, pointValue float64) float64 {
	if lot.Side == models.Long {
		return (price - lot.AvgEntryPrice) * float64(size) * pointValue
	}
	return (lot.AvgEntryPrice - price) * float64(size) * pointValue
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
