// Package daemon wires the event dispatcher: one goroutine consumes the
// broker stream in FIFO order, updates the tracker and P&L engine, evaluates
// the rules, and invokes enforcement. All risk state is owned by that
// goroutine; the dashboard reads a snapshot cache instead.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_sentinel/internal/audit"
	"github.com/eddiefleurent/scranton_sentinel/internal/broker"
	"github.com/eddiefleurent/scranton_sentinel/internal/config"
	"github.com/eddiefleurent/scranton_sentinel/internal/models"
	"github.com/eddiefleurent/scranton_sentinel/internal/pnl"
	"github.com/eddiefleurent/scranton_sentinel/internal/rules"
	"github.com/eddiefleurent/scranton_sentinel/internal/tracker"
)

// closeConfirmDelay is how long after a SELL fill the daemon polls the broker
// to catch closes the stream never reported.
const closeConfirmDelay = time.Second

// EventSource feeds the dispatcher. Satisfied by *broker.Stream; tests use an
// in-memory channel.
type EventSource interface {
	Events() <-chan models.Event
	Inject(ctx context.Context, evt models.Event) error
}

// Status is the read-only snapshot served to the CLI and dashboard.
type Status struct {
	Running       bool               `json:"running"`
	DryRun        bool               `json:"dry_run"`
	DailyPnl      float64            `json:"daily_pnl"`
	TradingLocked bool               `json:"trading_locked"`
	Rules         []string           `json:"rules"`
	Lots          map[string]lotView `json:"positions"`
}

type lotView struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Size          int     `json:"size"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
}

// Daemon owns the dispatcher loop and the risk state it drives.
type Daemon struct {
	cfg     *config.Store
	broker  broker.Client
	source  EventSource
	tracker *tracker.Tracker
	engine  *pnl.Engine
	aud     *audit.Logger
	log     *logrus.Logger

	// Rules are re-derived when the config store swaps its snapshot.
	loadedRules []rules.Rule
	rulesFrom   *config.Config

	// unrealized holds best-effort broker marks per tracked contract.
	unrealized map[string]float64

	statusMu sync.RWMutex
	status   Status

	wg sync.WaitGroup
}

// New assembles a daemon around an already-restored P&L engine.
func New(cfg *config.Store, b broker.Client, src EventSource, tr *tracker.Tracker, eng *pnl.Engine, aud *audit.Logger, log *logrus.Logger) *Daemon {
	return &Daemon{
		cfg:        cfg,
		broker:     b,
		source:     src,
		tracker:    tr,
		engine:     eng,
		aud:        aud,
		log:        log,
		unrealized: make(map[string]float64),
	}
}

// Status returns the latest dispatcher snapshot. Safe for concurrent use.
func (d *Daemon) Status() Status {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status
}

// WarnIfAlreadyBreached audits a warning when the restored session P&L is
// already past the configured daily-loss limit.
func (d *Daemon) WarnIfAlreadyBreached() {
	cfg := d.cfg.Snapshot()
	rc, ok := cfg.Rules.Get("daily_loss")
	if !ok || !rc.Enabled {
		return
	}
	maxUSD := rc.FloatParam("max_usd", 200)
	if d.engine.DailyPnl() < -maxUSD {
		d.aud.Warnf("Trading at risk: restored daily P&L %.2f already exceeds loss limit %.2f.",
			d.engine.DailyPnl(), maxUSD)
	}
}

// Run consumes events until the source closes or ctx is cancelled. The final
// checkpoint is written on every exit path.
func (d *Daemon) Run(ctx context.Context) error {
	d.reloadRules()
	d.publishStatus(true)
	d.aud.Info("Risk daemon started.")

	defer func() {
		d.engine.Checkpoint()
		d.publishStatus(false)
		d.aud.Info("Risk daemon stopped.")
	}()
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-d.source.Events():
			if !ok {
				return nil
			}
			d.handleEvent(ctx, evt)
		}
	}
}

// handleEvent is one dispatcher iteration. Enforcement completes before the
// next event is dequeued.
func (d *Daemon) handleEvent(ctx context.Context, evt models.Event) {
	arrived := time.Now()
	d.log.WithFields(logrus.Fields{
		"kind":      evt.Kind,
		"contract":  evt.ContractID(),
		"synthetic": evt.Synthetic,
	}).Debug("event received")

	if evt.Kind == models.EventQuote {
		return
	}

	d.reloadRules()
	d.applyToTracker(evt)
	res := d.engine.OnEvent(ctx, evt)
	d.auditEvent(evt)
	d.refreshUnrealized(ctx, evt)

	breach := d.evaluateRules(ctx, evt, res)
	if breach != nil {
		d.enforce(ctx, evt, *breach, arrived)
	} else {
		d.enforceLock(ctx, evt)
	}
	d.scheduleCloseConfirmation(ctx, evt)
	d.publishStatus(true)
}

func (d *Daemon) applyToTracker(evt models.Event) {
	switch evt.Kind {
	case models.EventOrderFilled:
		d.tracker.ApplyFill(evt.Fill.ContractID, evt.Fill.Side, evt.Fill.Size, evt.Fill.FilledPrice)
	case models.EventPositionUpdated:
		// Zero-size updates are silent closes; the P&L engine removes the lot
		// during attribution.
		d.tracker.SyncPosition(*evt.Position)
	}
}

// auditEvent writes the plain-English record for trading events. Close P&L
// records come from the engine during attribution.
func (d *Daemon) auditEvent(evt models.Event) {
	switch evt.Kind {
	case models.EventOrderFilled:
		f := evt.Fill
		noun := "contracts"
		if f.Size == 1 {
			noun = "contract"
		}
		d.aud.Infof("Order filled for %s: %s %d %s at %.2f.",
			models.SymbolFromContract(f.ContractID), f.Side, f.Size, noun, f.FilledPrice)
	case models.EventPositionUpdated:
		p := evt.Position
		if p.Size == 0 {
			return
		}
		d.aud.Infof("Position update for %s: %s %d at %.2f.",
			models.SymbolFromContract(p.ContractID), p.Type, abs(p.Size), p.AveragePrice)
	}
}

// refreshUnrealized pulls the broker's mark for the event's contract, for
// status display only.
func (d *Daemon) refreshUnrealized(ctx context.Context, evt models.Event) {
	contractID := evt.ContractID()
	if contractID == "" {
		return
	}
	if _, tracked := d.tracker.Lot(contractID); !tracked {
		delete(d.unrealized, contractID)
		return
	}
	pos, err := d.broker.GetPosition(ctx, contractID)
	if err != nil {
		d.log.WithError(err).WithField("contract", contractID).
			Warn("unrealized P&L refresh failed")
		return
	}
	if pos != nil {
		d.unrealized[contractID] = pos.UnrealizedPnl
	}
}

// evaluateRules runs the loaded rules in declaration order and returns the
// first breach, if any.
func (d *Daemon) evaluateRules(ctx context.Context, evt models.Event, _ pnl.Result) *rules.Result {
	cfg := d.cfg.Snapshot()
	deps := rules.Deps{
		Broker:   d.broker,
		DryRun:   cfg.DryRun,
		DailyPnl: d.engine.DailyPnl(),
	}
	for _, rule := range d.loadedRules {
		rc, ok := cfg.Rules.Get(rule.Name())
		if !ok || !rc.Enabled {
			continue
		}
		res, err := rule.Check(ctx, evt, rc, deps)
		if err != nil {
			d.aud.Errorf("Rule %s check degraded: %v.", rule.Name(), err)
		}
		if res.Status == rules.StatusBreach {
			msg := "Rule " + rule.Name() + " breached - " + res.Reason + ". Action: " + string(res.Action)
			if cfg.DryRun {
				msg += " (dry-run: no enforcement)"
			}
			d.aud.Warn(msg)
			if cfg.DryRun {
				return nil
			}
			return &res
		}
	}
	return nil
}

// enforceLock force-closes any fill that arrives while trading is locked.
func (d *Daemon) enforceLock(ctx context.Context, evt models.Event) {
	if !d.engine.Locked() || evt.Kind != models.EventOrderFilled {
		return
	}
	contractID := evt.Fill.ContractID
	if _, tracked := d.tracker.Lot(contractID); !tracked {
		return
	}
	d.aud.Warnf("Order filled for %s while trading is locked. Forcing position closed.",
		models.SymbolFromContract(contractID))
	if d.cfg.DryRun() {
		d.aud.Info("Forced close suppressed (dry-run).")
		return
	}
	d.flatten(ctx, contractID, time.Now())
}

// scheduleCloseConfirmation arms the one-shot poll after a SELL fill. Streams
// sometimes drop the closing notification; the poll recovers it.
func (d *Daemon) scheduleCloseConfirmation(ctx context.Context, evt models.Event) {
	if evt.Kind != models.EventOrderFilled || evt.Fill.Side != models.SideSell || evt.Synthetic {
		return
	}
	contractID := evt.Fill.ContractID
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(closeConfirmDelay):
		}
		d.confirmClose(ctx, contractID)
	}()
}

// confirmClose checks whether a contract the daemon still tracks has gone
// flat at the broker, and synthesizes the missing zero-size update if so.
func (d *Daemon) confirmClose(ctx context.Context, contractID string) {
	status := d.Status()
	if _, tracked := status.Lots[contractID]; !tracked {
		return
	}
	positions, err := d.broker.GetAllPositions(ctx)
	if err != nil {
		d.log.WithError(err).WithField("contract", contractID).
			Warn("close-confirmation poll failed")
		return
	}
	for _, pos := range positions {
		if pos.ContractID == contractID && pos.Size != 0 {
			return
		}
	}
	d.log.WithField("contract", contractID).Info("close confirmed by poll, synthesizing position update")
	evt := models.Event{
		Kind:      models.EventPositionUpdated,
		Timestamp: time.Now(),
		Position:  &models.PositionUpdate{ContractID: contractID, Size: 0},
	}
	if err := d.source.Inject(ctx, evt); err != nil {
		d.log.WithError(err).Warn("could not inject synthetic close")
	}
}

// reloadRules re-derives the rule instances when the config snapshot changed.
func (d *Daemon) reloadRules() {
	cfg := d.cfg.Snapshot()
	if cfg == d.rulesFrom {
		return
	}
	loaded, errs := rules.FromConfig(cfg)
	for _, err := range errs {
		d.aud.Errorf("Rule failed to load: %v. Continuing with remaining rules.", err)
	}
	d.loadedRules = loaded
	d.rulesFrom = cfg
}

func (d *Daemon) publishStatus(running bool) {
	cfg := d.cfg.Snapshot()
	names := make([]string, 0, len(d.loadedRules))
	for _, r := range d.loadedRules {
		names = append(names, r.Name())
	}
	lots := make(map[string]lotView)
	for contractID, lot := range d.tracker.Snapshot() {
		lots[contractID] = lotView{
			Symbol:        models.SymbolFromContract(contractID),
			Side:          lot.Side.String(),
			Size:          lot.Size,
			AvgEntryPrice: lot.AvgEntryPrice,
			UnrealizedPnl: d.unrealized[contractID],
		}
	}

	d.statusMu.Lock()
	d.status = Status{
		Running:       running,
		DryRun:        cfg.DryRun,
		DailyPnl:      d.engine.DailyPnl(),
		TradingLocked: d.engine.Locked(),
		Rules:         names,
		Lots:          lots,
	}
	d.statusMu.Unlock()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
