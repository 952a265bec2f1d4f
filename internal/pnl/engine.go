// Package pnl maintains the session's realized P&L accumulator: the daily
// reset at the 17:00 America/Chicago boundary, the multi-source attribution
// of closing P&L, and the checkpoint written after every mutation.
package pnl

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_sentinel/internal/audit"
	"github.com/eddiefleurent/scranton_sentinel/internal/broker"
	"github.com/eddiefleurent/scranton_sentinel/internal/models"
	"github.com/eddiefleurent/scranton_sentinel/internal/state"
	"github.com/eddiefleurent/scranton_sentinel/internal/tracker"
)

// sanityToleranceUSD is the disagreement between the primary and secondary
// P&L sources tolerated during restore before warning.
const sanityToleranceUSD = 0.01

// Engine owns the daily realized P&L accumulator and the trading lock. It is
// driven by the dispatcher goroutine; methods are not safe for concurrent use.
type Engine struct {
	broker  broker.Client
	tracker *tracker.Tracker
	store   *state.Store
	audit   *audit.Logger
	log     *logrus.Logger
	loc     *time.Location

	session state.Session
}

// NewEngine builds the P&L engine. Fails only if the Chicago tz database
// entry cannot be loaded, since every session boundary depends on it.
func NewEngine(b broker.Client, tr *tracker.Tracker, st *state.Store, aud *audit.Logger, log *logrus.Logger) (*Engine, error) {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return nil, fmt.Errorf("loading America/Chicago: %w", err)
	}
	return &Engine{
		broker:  b,
		tracker: tr,
		store:   st,
		audit:   aud,
		log:     log,
		loc:     loc,
	}, nil
}

// DailyPnl returns the current session accumulator.
func (e *Engine) DailyPnl() float64 { return e.session.DailyRealizedPnl }

// Locked reports whether trading is locked.
func (e *Engine) Locked() bool { return e.session.TradingLocked }

// SetLocked flips the trading lock and checkpoints.
func (e *Engine) SetLocked(locked bool) {
	e.session.TradingLocked = locked
	e.checkpoint()
}

// Session returns a copy of the current session state.
func (e *Engine) Session() state.Session { return e.session }

// Checkpoint persists the current session immediately. Used on shutdown.
func (e *Engine) Checkpoint() { e.checkpoint() }

// sessionDate is the America/Chicago calendar date of the most recent 17:00
// rollover: before 17:00 local that is yesterday's date.
func (e *Engine) sessionDate(now time.Time) string {
	ct := now.In(e.loc)
	if ct.Hour() < 17 {
		ct = ct.AddDate(0, 0, -1)
	}
	return ct.Format(state.DateLayout)
}

// Restore rebuilds the session accumulator on startup. The checkpoint is used
// only when it belongs to the current session; otherwise the broker's
// portfolio P&L is the source of truth, cross-checked against a 24h
// performance query.
func (e *Engine) Restore(ctx context.Context, now time.Time) error {
	current := e.sessionDate(now)

	sess, err := e.store.Load()
	if err != nil {
		e.audit.Warnf("Could not read session checkpoint: %v. Rebuilding from broker.", err)
		e.log.WithError(err).Warn("checkpoint read failed")
	}
	if sess != nil && sess.LastResetDate == current {
		e.session = *sess
		e.audit.Infof("Restored session state: daily P&L %.2f, trading locked: %t.",
			sess.DailyRealizedPnl, sess.TradingLocked)
		return nil
	}

	restored := 0.0
	pnl, perr := e.broker.GetPortfolioPnL(ctx)
	if perr != nil {
		e.audit.Warnf("Portfolio P&L query failed during restore: %v. Starting session at 0.00.", perr)
	} else {
		restored = pnl.DayPnl
		if restored == 0 {
			restored = pnl.RealizedPnl
		}
	}

	e.session = state.Session{
		DailyRealizedPnl: restored,
		LastResetDate:    current,
		TradingLocked:    false,
	}
	e.checkpoint()
	e.audit.Infof("Session state rebuilt from broker: daily P&L %.2f.", restored)

	// The cross-check only means something when the primary was fetched.
	if perr == nil {
		e.sanityCheck(ctx, now, restored)
	}
	return nil
}

// sanityCheck compares the restored value against a 24h performance query and
// keeps the primary on disagreement.
func (e *Engine) sanityCheck(ctx context.Context, now time.Time, restored float64) {
	metrics, err := e.broker.GetPerformanceMetrics(ctx, now.Add(-24*time.Hour))
	if err != nil {
		e.log.WithError(err).Warn("performance metrics sanity check failed")
		return
	}
	if math.Abs(metrics.DailyPnl-restored) > sanityToleranceUSD {
		e.audit.Warnf("P&L sources disagree: portfolio %.2f vs performance %.2f. Keeping portfolio value.",
			restored, metrics.DailyPnl)
	}
}

// Result describes what processing one event did to the accumulator.
type Result struct {
	Delta float64
	Reset bool
}

// OnEvent applies the reset check and P&L attribution for one event. Called
// for every event, quotes excluded, before rules run.
func (e *Engine) OnEvent(ctx context.Context, evt models.Event) Result {
	res := Result{Reset: e.maybeReset(evt.Timestamp)}

	switch evt.Kind {
	case models.EventPositionClosed:
		res.Delta = e.attributeClose(ctx, evt.Closed.ContractID, evt.Closed.Pnl, evt.Closed.AveragePrice)
	case models.EventPositionPnl:
		res.Delta = evt.Pnl.RealizedPnl
	case models.EventPositionUpdated:
		if evt.Position.Size == 0 {
			res.Delta = e.attributeClose(ctx, evt.Position.ContractID, evt.Position.Pnl, 0)
		}
	}

	if res.Delta != 0 {
		e.session.DailyRealizedPnl += res.Delta
		e.checkpoint()
		if evt.Kind == models.EventPositionPnl {
			e.audit.Infof("Position P&L updated: realized %.2f (cumulative %.2f).",
				res.Delta, e.session.DailyRealizedPnl)
		} else {
			e.audit.Infof("Position closed: realized P&L %.2f (cumulative %.2f).",
				res.Delta, e.session.DailyRealizedPnl)
		}
	}
	return res
}

// maybeReset zeroes the session when ts crosses the 17:00 CT boundary into a
// date the session has not seen.
func (e *Engine) maybeReset(ts time.Time) bool {
	current := e.sessionDate(ts)
	ct := ts.In(e.loc)
	if ct.Hour() < 17 || e.session.LastResetDate == current {
		return false
	}
	e.session.DailyRealizedPnl = 0
	e.session.TradingLocked = false
	e.session.LastResetDate = current
	e.tracker.Clear()
	e.checkpoint()
	e.audit.Info("Daily session reset at 5:00 PM CT. Loss/profit counters cleared, trading unlocked.")
	return true
}

// attributeClose resolves the realized P&L of a close through the fallback
// chain: event payload, broker position query, tracked-lot reconstruction
// with a last-price query when the close price is unknown. The tracked lot is
// removed either way.
func (e *Engine) attributeClose(ctx context.Context, contractID string, payloadPnl, closePrice float64) float64 {
	lot, hadLot := e.tracker.Remove(contractID)

	if payloadPnl != 0 {
		return payloadPnl
	}

	pos, err := e.broker.GetPosition(ctx, contractID)
	if err != nil {
		e.log.WithError(err).WithField("contract", contractID).
			Warn("position query failed during P&L attribution")
	} else if pos != nil && pos.UnrealizedPnl != 0 {
		return pos.UnrealizedPnl
	}

	if !hadLot {
		e.audit.Warnf("Position closed for %s with no P&L source available. Daily P&L may be understated.",
			models.SymbolFromContract(contractID))
		return 0
	}

	if closePrice == 0 {
		closePrice, err = e.broker.GetCurrentPrice(ctx, contractID)
		if err != nil {
			e.audit.Warnf("Could not reconstruct P&L for %s: no close price available. Daily P&L may be understated.",
				models.SymbolFromContract(contractID))
			return 0
		}
	}

	points := closePrice - lot.AvgEntryPrice
	if lot.Side == models.Short {
		points = -points
	}
	return points * float64(lot.Size) * e.tracker.PointValue(contractID)
}

// checkpoint persists the session, warning on failure; the daemon keeps
// running on a persistence error so operators retain telemetry.
func (e *Engine) checkpoint() {
	if err := e.store.Save(e.session); err != nil {
		e.audit.Warnf("Failed to checkpoint session state: %v.", err)
		e.log.WithError(err).Warn("checkpoint write failed")
	}
}
