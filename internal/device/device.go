// Package device drives liquid-handling plans against a Device. The vendor
// runtime is reached only through the Device interface; Simulator is an
// in-process implementation that records commands and tracks volumes.
package device

import (
	"context"

	"dispensecore/internal/planner"
)

// Device is the subset of a liquid handler used to execute distributions.
// Calls are made from a single goroutine, in order.
type Device interface {
	PickUpTip(ctx context.Context) error
	DropTip(ctx context.Context) error
	Aspirate(ctx context.Context, loc planner.Location, volume float64) error
	Dispense(ctx context.Context, loc planner.Location, volume float64) error
	Mix(ctx context.Context, loc planner.Location, repetitions int, volume float64) error
	TouchTip(ctx context.Context, loc planner.Location) error
	BlowOut(ctx context.Context, loc planner.Location) error
	SetDispenseFlowRate(ctx context.Context, microlitersPerSecond float64) error
}
