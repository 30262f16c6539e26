package device

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dispensecore/internal/planner"
)

// TrashLocation is the fixed trash used for trash blow-outs.
var TrashLocation = planner.Location{Labware: "Trash", Slot: 12, Well: "A1"}

// Report summarizes what an executor completed.
type Report struct {
	Distributions int     `json:"distributions"`
	Cycles        int     `json:"cycles"`
	Dispenses     int     `json:"dispenses"`
	Delivered     float64 `json:"delivered"`
	Tips          int     `json:"tips"`
}

// Executor runs plans against a device, one distribution at a time.
type Executor struct {
	dev    Device
	logger *zap.Logger
}

// NewExecutor binds an executor to dev. A nil logger disables logging.
func NewExecutor(dev Device, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{dev: dev, logger: logger}
}

// Execute runs every distribution of plan in order. Cancellation is honoured
// between distributions only. On failure the report covers the distributions
// that finished.
func (e *Executor) Execute(ctx context.Context, plan planner.Plan) (Report, error) {
	var rep Report
	opts := plan.Options
	rate := plan.Pipette.DispenseFlowRate * opts.FlowRateFraction
	if rate > 0 {
		if err := e.dev.SetDispenseFlowRate(ctx, rate); err != nil {
			return rep, fmt.Errorf("set flow rate: %w", err)
		}
	}
	for i, d := range plan.Distributions {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("stopped before distribution %d: %w", i+1, err)
		}
		if err := e.distribute(ctx, d, opts); err != nil {
			e.logger.Error("distribution failed",
				zap.Int("distribution", i+1),
				zap.String("source", d.Batch.Key().String()),
				zap.Error(err))
			return rep, fmt.Errorf("distribution %d (%s): %w", i+1, d.Batch.Key(), err)
		}
		rep.Distributions++
		rep.Tips++
		for _, c := range d.Cycles {
			rep.Cycles++
			rep.Dispenses += len(c.Dispenses)
			for _, t := range c.Dispenses {
				rep.Delivered += t.Volume
			}
		}
		e.logger.Debug("distribution complete",
			zap.Int("distribution", i+1),
			zap.String("source", d.Batch.Key().String()),
			zap.Int("cycles", len(d.Cycles)),
			zap.Float64("total_volume", d.Batch.TotalVolume))
	}
	return rep, nil
}

func (e *Executor) distribute(ctx context.Context, d planner.Distribution, opts planner.Options) error {
	if err := e.dev.PickUpTip(ctx); err != nil {
		return err
	}
	for _, c := range d.Cycles {
		if opts.MixBefore.Repetitions > 0 && opts.MixBefore.Volume > 0 {
			if err := e.dev.Mix(ctx, d.Source, opts.MixBefore.Repetitions, opts.MixBefore.Volume); err != nil {
				return err
			}
		}
		if err := e.dev.Aspirate(ctx, d.Source, c.Aspirate); err != nil {
			return err
		}
		if opts.TouchTip {
			if err := e.dev.TouchTip(ctx, d.Source); err != nil {
				return err
			}
		}
		for _, t := range c.Dispenses {
			if err := e.dev.Dispense(ctx, t.Location, t.Volume); err != nil {
				return err
			}
			if opts.TouchTip {
				if err := e.dev.TouchTip(ctx, t.Location); err != nil {
					return err
				}
			}
		}
		if err := e.dev.BlowOut(ctx, blowOutTarget(opts.BlowOut, d.Source, c)); err != nil {
			return err
		}
	}
	return e.dev.DropTip(ctx)
}

func blowOutTarget(where planner.BlowOutLocation, source planner.Location, c planner.Cycle) planner.Location {
	switch where {
	case planner.BlowOutDestination:
		if n := len(c.Dispenses); n > 0 {
			return c.Dispenses[n-1].Location
		}
		return source
	case planner.BlowOutTrash:
		return TrashLocation
	default:
		return source
	}
}
