package rules

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/scranton_sentinel/internal/config"
	"github.com/eddiefleurent/scranton_sentinel/internal/models"
)

const defaultMaxLossUSD = 200.0

func init() {
	register("daily_loss", func() Rule { return &dailyLoss{} })
}

// dailyLoss engages the kill-switch when the session's realized P&L drops
// below -max_usd. The dispatcher updates the accumulator before rules run, so
// the check reads the post-update value; adding the event's own P&L here
// would count it twice.
type dailyLoss struct{}

func (r *dailyLoss) Name() string { return "daily_loss" }

func (r *dailyLoss) Check(_ context.Context, evt models.Event, cfg config.RuleConfig, deps Deps) (Result, error) {
	switch evt.Kind {
	case models.EventPositionClosed, models.EventPositionPnl:
	case models.EventPositionUpdated:
		// A zero-size update is a silent close and mutates the accumulator
		// just like an explicit close event.
		if evt.Position.Size != 0 {
			return Valid(), nil
		}
	default:
		return Valid(), nil
	}

	maxUSD := cfg.FloatParam("max_usd", defaultMaxLossUSD)
	if deps.DailyPnl < -maxUSD {
		return Result{
			Status: StatusBreach,
			Reason: fmt.Sprintf("Daily realized P&L %.2f < -%.2f", deps.DailyPnl, maxUSD),
			Action: ActionKillSwitch,
		}, nil
	}
	return Valid(), nil
}
