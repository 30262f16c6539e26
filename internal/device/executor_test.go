package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dispensecore/internal/consolidate"
	"dispensecore/internal/labware"
	"dispensecore/internal/planner"
	"dispensecore/pkg/domain"
)

func samplePlan(t *testing.T, opts planner.Options) planner.Plan {
	t.Helper()
	var reqs []domain.TransferRequest
	for round := 0; round < 4; round++ {
		for i := 1; i <= 4; i++ {
			reqs = append(reqs, domain.TransferRequest{
				SourcePlate: "Source 1", SourceWell: fmt.Sprintf("A%d", i),
				DestinationPlate: fmt.Sprintf("Destination %d", i), DestinationWell: fmt.Sprintf("A%d", i),
				Volume: 50,
			})
		}
	}
	plan, err := planner.Build(consolidate.Consolidate(reqs), labware.DefaultCherrypickDeck(), opts)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	return plan
}

func TestExecute_SampleOnSimulator(t *testing.T) {
	plan := samplePlan(t, planner.DefaultOptions())
	sim := NewSimulator(plan.Pipette.MaxVolume)
	rep, err := NewExecutor(sim, nil).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rep.Distributions != 4 || rep.Cycles != 4 || rep.Dispenses != 16 || rep.Delivered != 800 || rep.Tips != 4 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if n := len(sim.Commands()); n != 57 {
		t.Fatalf("expected 57 commands, got %d", n)
	}
	if sim.TipsUsed() != 4 {
		t.Fatalf("tips used %d", sim.TipsUsed())
	}
	src := planner.Location{Labware: "Source 1", Slot: 1, Well: "A1"}
	if got := sim.Balance(src); got != -200 {
		t.Fatalf("source balance %v, disposal should return to source", got)
	}
	dst := planner.Location{Labware: "Destination 3", Slot: 8, Well: "A3"}
	if got := sim.Balance(dst); got != 200 {
		t.Fatalf("destination balance %v", got)
	}
	first := sim.Commands()[0]
	if first.Kind != CmdFlowRate || first.Volume != 92.86*0.5 {
		t.Fatalf("first command %s", first)
	}
}

func TestExecute_TrashBlowOutAndNoExtras(t *testing.T) {
	opts := planner.DefaultOptions()
	opts.BlowOut = planner.BlowOutTrash
	opts.TouchTip = false
	opts.MixBefore = planner.Mix{}
	plan := samplePlan(t, opts)
	sim := NewSimulator(plan.Pipette.MaxVolume)
	if _, err := NewExecutor(sim, nil).Execute(context.Background(), plan); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := sim.Balance(TrashLocation); got != 200 {
		t.Fatalf("trash balance %v", got)
	}
	for _, c := range sim.Commands() {
		if c.Kind == CmdTouchTip || c.Kind == CmdMix {
			t.Fatalf("unexpected command %s", c)
		}
	}
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	plan := samplePlan(t, planner.DefaultOptions())
	rep, err := NewExecutor(NewSimulator(300), nil).Execute(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if rep.Distributions != 0 {
		t.Fatalf("report %+v", rep)
	}
}

type failingDevice struct {
	*Simulator
	dispenses int
	failAt    int
}

func (f *failingDevice) Dispense(ctx context.Context, loc planner.Location, volume float64) error {
	f.dispenses++
	if f.dispenses == f.failAt {
		return errors.New("liquid level sensor fault")
	}
	return f.Simulator.Dispense(ctx, loc, volume)
}

func TestExecute_StopsOnDeviceError(t *testing.T) {
	plan := samplePlan(t, planner.DefaultOptions())
	dev := &failingDevice{Simulator: NewSimulator(300), failAt: 6}
	rep, err := NewExecutor(dev, nil).Execute(context.Background(), plan)
	if err == nil {
		t.Fatalf("expected error")
	}
	if rep.Distributions != 1 || rep.Dispenses != 4 {
		t.Fatalf("partial report %+v", rep)
	}
}

func TestSimulatorGuards(t *testing.T) {
	ctx := context.Background()
	loc := planner.Location{Labware: "Source 1", Slot: 1, Well: "A1"}
	sim := NewSimulator(20)
	if err := sim.Aspirate(ctx, loc, 5); err == nil {
		t.Fatalf("expected no-tip error")
	}
	if err := sim.DropTip(ctx); err == nil {
		t.Fatalf("expected no-tip error on drop")
	}
	if err := sim.PickUpTip(ctx); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	if err := sim.PickUpTip(ctx); err == nil {
		t.Fatalf("expected double pick-up error")
	}
	if err := sim.Aspirate(ctx, loc, 25); err == nil {
		t.Fatalf("expected over-capacity error")
	}
	if err := sim.Aspirate(ctx, loc, 10); err != nil {
		t.Fatalf("aspirate: %v", err)
	}
	if err := sim.Dispense(ctx, loc, 11); err == nil {
		t.Fatalf("expected over-dispense error")
	}
	if err := sim.Mix(ctx, loc, 2, 30); err == nil {
		t.Fatalf("expected mix capacity error")
	}
	if err := sim.SetDispenseFlowRate(ctx, 0); err == nil {
		t.Fatalf("expected flow rate error")
	}
	sim.Fill(loc, 100)
	if got := sim.Balance(loc); got != 90 {
		t.Fatalf("balance %v", got)
	}
}

func firstOf(cmds []Command, kind CommandKind) Command {
	for _, c := range cmds {
		if c.Kind == kind {
			return c
		}
	}
	return Command{}
}

func TestExecute_TipHeights(t *testing.T) {
	run := func(opts planner.Options) []Command {
		plan := samplePlan(t, opts)
		sim := NewSimulator(plan.Pipette.MaxVolume)
		if _, err := NewExecutor(sim, nil).Execute(context.Background(), plan); err != nil {
			t.Fatalf("execute: %v", err)
		}
		return sim.Commands()
	}
	cmds := run(planner.DefaultOptions())
	asp := firstOf(cmds, CmdAspirate)
	if asp.Location == nil || asp.Location.Origin != planner.OriginBottom || asp.Location.Offset != 0.5 {
		t.Fatalf("aspirate height %s", asp)
	}
	disp := firstOf(cmds, CmdDispense)
	if disp.Location == nil || disp.Location.Origin != planner.OriginTop || disp.Location.Offset != -5 {
		t.Fatalf("dispense height %s", disp)
	}
	if got := disp.String(); !strings.HasSuffix(got, ", -5 mm from top") {
		t.Fatalf("dispense string %q", got)
	}

	opts := planner.DefaultOptions()
	opts.AspirateOffset = 40
	opts.DispenseOffset = 0
	if diff := cmp.Diff(cmds, run(opts)); diff == "" {
		t.Fatalf("offsets did not change the command log")
	}
}

func TestExecute_WellOverflow(t *testing.T) {
	deck, err := labware.LoadDeck(strings.NewReader(`name: pcr
labware:
  - {name: Tips, slot: 3, type: opentrons_96_tiprack_300ul}
  - {name: Source 1, slot: 1, type: nest_96_wellplate_2ml_deep, role: source}
  - {name: PCR, slot: 2, type: nest_96_wellplate_100ul_pcr_full_skirt, role: destination}
`))
	if err != nil {
		t.Fatalf("load deck: %v", err)
	}
	reqs := []domain.TransferRequest{{SourcePlate: "Source 1", SourceWell: "A1", DestinationPlate: "PCR", DestinationWell: "A1", Volume: 180}}
	plan, err := planner.Build(consolidate.Consolidate(reqs), deck, planner.DefaultOptions())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if plan.WellVolumes["PCR"] != 100 {
		t.Fatalf("well volumes %v", plan.WellVolumes)
	}
	sim := NewSimulator(plan.Pipette.MaxVolume)
	for name, v := range plan.WellVolumes {
		sim.SetWellVolume(name, v)
	}
	rep, err := NewExecutor(sim, nil).Execute(context.Background(), plan)
	if err == nil || !strings.Contains(err.Error(), "working volume 100") {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if rep.Dispenses != 0 {
		t.Fatalf("report %+v", rep)
	}
	dst := planner.Location{Labware: "PCR", Slot: 2, Well: "A1"}
	if got := sim.Balance(dst); got != 0 {
		t.Fatalf("overflowing dispense changed balance to %v", got)
	}
}

func TestSimulatorWellVolumeIgnoresHeight(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(300)
	sim.SetWellVolume("PCR", 100)
	if err := sim.PickUpTip(ctx); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	src := planner.Location{Labware: "Source 1", Slot: 1, Well: "A1"}
	if err := sim.Aspirate(ctx, src, 120); err != nil {
		t.Fatalf("aspirate: %v", err)
	}
	dst := planner.Location{Labware: "PCR", Slot: 2, Well: "B1"}
	if err := sim.Dispense(ctx, dst.Top(-5), 60); err != nil {
		t.Fatalf("dispense: %v", err)
	}
	if err := sim.Dispense(ctx, dst, 60); err == nil {
		t.Fatalf("expected overflow for the same well at another height")
	}
	if err := sim.BlowOut(ctx, dst); err == nil {
		t.Fatalf("expected blow-out overflow")
	}
	if got := sim.Balance(dst); got != 60 {
		t.Fatalf("balance %v", got)
	}
}
