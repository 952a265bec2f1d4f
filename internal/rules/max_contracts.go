package rules

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/scranton_sentinel/internal/config"
	"github.com/eddiefleurent/scranton_sentinel/internal/models"
)

const defaultMaxContracts = 4

func init() {
	register("max_contracts", func() Rule { return &maxContracts{} })
}

// maxContracts caps the net position size per contract. Position snapshots are
// judged directly; fills are judged against the projected net after the fill,
// which needs a broker query for the current size.
type maxContracts struct{}

func (r *maxContracts) Name() string { return "max_contracts" }

func (r *maxContracts) Check(ctx context.Context, evt models.Event, cfg config.RuleConfig, deps Deps) (Result, error) {
	limit := cfg.IntParam("max_contracts", defaultMaxContracts)

	switch evt.Kind {
	case models.EventPositionUpdated:
		size := abs(evt.Position.Size)
		if size > limit {
			return Result{
				Status:         StatusBreach,
				Reason:         fmt.Sprintf("Net position size %d exceeds max %d", size, limit),
				Action:         ActionFlatten,
				TargetContract: evt.Position.ContractID,
			}, nil
		}
	case models.EventOrderFilled:
		return r.checkFill(ctx, evt.Fill, limit, deps)
	}
	return Valid(), nil
}

func (r *maxContracts) checkFill(ctx context.Context, fill *models.OrderFill, limit int, deps Deps) (Result, error) {
	fillSize := abs(fill.Size)
	if fillSize == 0 {
		return Valid(), nil
	}

	pos, err := deps.Broker.GetPosition(ctx, fill.ContractID)
	if err != nil {
		// Conservative fallback: without the current size, a fill bigger
		// than the limit is already a breach on its own.
		if fillSize > limit {
			return Result{
				Status:         StatusBreach,
				Reason:         fmt.Sprintf("Fill size %d exceeds max %d (position query failed)", fillSize, limit),
				Action:         ActionFlatten,
				TargetContract: fill.ContractID,
			}, nil
		}
		return Valid(), fmt.Errorf("max_contracts position query: %w", err)
	}

	current := 0
	if pos != nil {
		current = signedSize(pos.Size, pos.Type)
	}
	delta := fillSize
	if fill.Side == models.SideSell {
		delta = -fillSize
	}
	projected := current + delta
	if abs(projected) > limit {
		return Result{
			Status:         StatusBreach,
			Reason:         fmt.Sprintf("Projected net position size %d exceeds max %d", abs(projected), limit),
			Action:         ActionFlatten,
			TargetContract: fill.ContractID,
		}, nil
	}
	return Valid(), nil
}

// signedSize converts the gateway's (size, type) pair to a signed net size.
func signedSize(size, posType int) int {
	if posType == int(models.Short) && size > 0 {
		return -size
	}
	return size
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
