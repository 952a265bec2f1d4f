package daemon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_sentinel/internal/models"
	"github.com/eddiefleurent/scranton_sentinel/internal/rules"
)

// enforce executes a breached rule's action. arrived is when the triggering
// event was dequeued; the dispatch latency to the close request is logged
// against the ~200ms target.
func (d *Daemon) enforce(ctx context.Context, evt models.Event, breach rules.Result, arrived time.Time) {
	switch breach.Action {
	case rules.ActionFlatten:
		target := breach.TargetContract
		if target == "" {
			target = evt.ContractID()
		}
		if target == "" {
			d.aud.Error("Flatten requested but no target contract could be determined.")
			return
		}
		d.flatten(ctx, target, arrived)
	case rules.ActionKillSwitch:
		d.killSwitch(ctx, arrived)
	}
}

// flatten closes one contract's position. Failures are audited, never
// retried; the operator decides the next move.
func (d *Daemon) flatten(ctx context.Context, contractID string, arrived time.Time) {
	actionID := uuid.NewString()
	symbol := models.SymbolFromContract(contractID)
	dispatchLatency := time.Since(arrived)

	start := time.Now()
	resp, err := d.broker.ClosePosition(ctx, contractID)
	callLatency := time.Since(start)

	d.log.WithFields(logrus.Fields{
		"action_id":           actionID,
		"action":              "flatten",
		"contract":            contractID,
		"dispatch_latency_ms": dispatchLatency.Milliseconds(),
		"call_latency_ms":     callLatency.Milliseconds(),
	}).Info("flatten dispatched")

	if err != nil {
		d.aud.Errorf("Failed to flatten position for %s: %v.", symbol, err)
		return
	}
	if !resp.Success {
		d.aud.Errorf("Broker refused to flatten position for %s: %s.", symbol, resp.ErrorMessage)
		return
	}
	d.aud.Infof("Flattened position for %s.", symbol)
}

// killSwitch closes every open position and locks trading. The lock is set
// even when some closes fail; a partially flat account must still stop
// opening new risk.
func (d *Daemon) killSwitch(ctx context.Context, arrived time.Time) {
	actionID := uuid.NewString()
	start := time.Now()

	positions, err := d.broker.GetAllPositions(ctx)
	if err != nil {
		d.aud.Errorf("Kill switch could not enumerate positions: %v. Locking trading anyway.", err)
		d.engine.SetLocked(true)
		return
	}

	total, closed := 0, 0
	for _, pos := range positions {
		if pos.Size == 0 {
			continue
		}
		total++
		resp, cerr := d.broker.ClosePosition(ctx, pos.ContractID)
		if cerr != nil {
			d.aud.Errorf("Kill switch failed to close %s: %v.",
				models.SymbolFromContract(pos.ContractID), cerr)
			continue
		}
		if !resp.Success {
			d.aud.Errorf("Kill switch close refused for %s: %s.",
				models.SymbolFromContract(pos.ContractID), resp.ErrorMessage)
			continue
		}
		closed++
	}

	d.engine.SetLocked(true)

	d.log.WithFields(logrus.Fields{
		"action_id":           actionID,
		"action":              "kill_switch",
		"closed":              closed,
		"total":               total,
		"dispatch_latency_ms": time.Since(arrived).Milliseconds(),
		"call_latency_ms":     time.Since(start).Milliseconds(),
	}).Info("kill switch executed")

	d.aud.Warnf("Kill switch engaged: closed %d of %d positions. Trading locked until next session reset.",
		closed, total)
}
