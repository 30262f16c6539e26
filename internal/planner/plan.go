// Package planner turns consolidated transfer batches into multi-dispense
// distributions sized for a concrete pipette.
package planner

import (
	"errors"
	"fmt"
	"strings"

	"dispensecore/internal/labware"
	"dispensecore/pkg/domain"
)

// CapacityPolicy decides what happens when a batch does not fit in a single
// aspirate.
type CapacityPolicy string

const (
	// PolicySplit spreads the dispenses of an oversized batch over several
	// aspirate cycles, keeping their order.
	PolicySplit CapacityPolicy = "split"
	// PolicyStrict rejects any batch whose total plus disposal volume exceeds
	// the pipette capacity.
	PolicyStrict CapacityPolicy = "strict"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (CapacityPolicy, error) {
	switch CapacityPolicy(s) {
	case PolicySplit, PolicyStrict:
		return CapacityPolicy(s), nil
	case "":
		return PolicySplit, nil
	default:
		return "", fmt.Errorf("unknown capacity policy %q", s)
	}
}

// BlowOutLocation is where residual liquid is expelled after the last dispense.
type BlowOutLocation string

const (
	BlowOutSource      BlowOutLocation = "source well"
	BlowOutDestination BlowOutLocation = "destination well"
	BlowOutTrash       BlowOutLocation = "trash"
)

// ParseBlowOut accepts the location names with or without the " well" suffix.
// An empty string selects the source well.
func ParseBlowOut(s string) (BlowOutLocation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "source", string(BlowOutSource):
		return BlowOutSource, nil
	case "destination", string(BlowOutDestination):
		return BlowOutDestination, nil
	case string(BlowOutTrash):
		return BlowOutTrash, nil
	default:
		return "", fmt.Errorf("unknown blow-out location %q", s)
	}
}

// Mix is a pre-aspirate mix of the source well.
type Mix struct {
	Repetitions int     `json:"repetitions"`
	Volume      float64 `json:"volume"`
}

// Options configures planning. An empty pipette, policy, blow-out location or
// flow rate falls back to DefaultOptions.
type Options struct {
	Pipette        labware.Pipette
	DisposalVolume float64
	Policy         CapacityPolicy
	MixBefore      Mix
	TouchTip       bool
	BlowOut        BlowOutLocation
	// AspirateOffset is the height above the source well bottom in mm.
	AspirateOffset float64
	// DispenseOffset is the depth below the destination well top in mm.
	DispenseOffset float64
	// FlowRateFraction scales the pipette's default dispense flow rate.
	FlowRateFraction float64
}

// DefaultOptions reproduces the cherry-pick distribute settings: p300, 50 µL
// disposal volume, 3×300 µL mix, touch tip, blow out to source, half-speed
// dispense 5 mm below the rim.
func DefaultOptions() Options {
	p, _ := labware.LookupPipette("p300_single_gen2")
	return Options{
		Pipette:          p,
		DisposalVolume:   50,
		Policy:           PolicySplit,
		MixBefore:        Mix{Repetitions: 3, Volume: 300},
		TouchTip:         true,
		BlowOut:          BlowOutSource,
		AspirateOffset:   0.5,
		DispenseOffset:   5,
		FlowRateFraction: 0.5,
	}
}

// CapacityError reports a batch that cannot be drawn with the pipette.
type CapacityError struct {
	Source   domain.SourceKey
	Required float64
	Capacity float64
	// Dispense is the index of a single dispense that does not fit on its own,
	// or -1 when the whole batch was rejected under PolicyStrict.
	Dispense int
}

func (e *CapacityError) Error() string {
	if e.Dispense >= 0 {
		return fmt.Sprintf("batch %s: dispense %d needs %g µL with disposal, pipette holds %g µL", e.Source, e.Dispense+1, e.Required, e.Capacity)
	}
	return fmt.Sprintf("batch %s: needs %g µL with disposal, pipette holds %g µL", e.Source, e.Required, e.Capacity)
}

// MinimumVolumeError reports a dispense smaller than the pipette can
// deliver accurately.
type MinimumVolumeError struct {
	Source   domain.SourceKey
	Dispense int
	Volume   float64
	Pipette  labware.Pipette
}

func (e *MinimumVolumeError) Error() string {
	return fmt.Sprintf("batch %s: dispense %d of %g µL is below the %s minimum of %g µL", e.Source, e.Dispense+1, e.Volume, e.Pipette.Model, e.Pipette.MinVolume)
}

// Origin is the part of a well a height offset is measured from.
type Origin string

const (
	OriginBottom Origin = "bottom"
	OriginTop    Origin = "top"
)

// Location is a well on a named piece of labware, optionally with a tip
// height relative to the well bottom or top.
type Location struct {
	Labware string `json:"labware"`
	Slot    int    `json:"slot"`
	Well    string `json:"well"`
	Origin  Origin `json:"origin,omitempty"`
	// Offset is in mm above Origin; negative values go below it.
	Offset float64 `json:"offset,omitempty"`
}

// Bottom returns l with the tip mm above the well bottom.
func (l Location) Bottom(mm float64) Location {
	l.Origin, l.Offset = OriginBottom, mm
	return l
}

// Top returns l with the tip mm above the well top.
func (l Location) Top(mm float64) Location {
	l.Origin, l.Offset = OriginTop, mm
	return l
}

func (l Location) String() string {
	return fmt.Sprintf("%s %s (slot %d)", l.Labware, l.Well, l.Slot)
}

// Target is a single dispense of a cycle.
type Target struct {
	Location Location `json:"location"`
	Volume   float64  `json:"volume"`
}

// Cycle is one aspirate followed by its dispenses.
type Cycle struct {
	Aspirate  float64  `json:"aspirate"`
	Disposal  float64  `json:"disposal"`
	Dispenses []Target `json:"dispenses"`
}

// Distribution executes one transfer batch with a single tip.
type Distribution struct {
	Batch  domain.TransferBatch `json:"batch"`
	Source Location             `json:"source"`
	Cycles []Cycle              `json:"cycles"`
}

// Plan is the ordered list of distributions for a worklist.
type Plan struct {
	Pipette       labware.Pipette `json:"pipette"`
	Options       Options         `json:"-"`
	Distributions []Distribution  `json:"distributions"`
	// WellVolumes maps each labware the plan touches to its per-well working
	// volume in µL.
	WellVolumes map[string]float64 `json:"well_volumes,omitempty"`
}

// Totals summarizes a plan.
type Totals struct {
	Tips      int
	Aspirates int
	Dispenses int
	Delivered float64
	Drawn     float64
}

// Totals counts tips, aspirates and volumes. One tip is used per distribution.
func (p Plan) Totals() Totals {
	var t Totals
	for _, d := range p.Distributions {
		t.Tips++
		for _, c := range d.Cycles {
			t.Aspirates++
			t.Dispenses += len(c.Dispenses)
			t.Drawn += c.Aspirate
			t.Delivered += c.Aspirate - c.Disposal
		}
	}
	return t
}

// Build plans batches in order against deck. Batches must already have passed
// deck validation; unknown labware is still reported.
func Build(batches []domain.TransferBatch, deck *labware.Deck, opts Options) (Plan, error) {
	opts = withDefaults(opts)
	if opts.Pipette.MaxVolume <= 0 {
		return Plan{}, errors.New("pipette capacity must be positive")
	}
	if opts.DisposalVolume < 0 {
		return Plan{}, fmt.Errorf("disposal volume %g must not be negative", opts.DisposalVolume)
	}
	if opts.Pipette.Channels > 1 {
		return Plan{}, fmt.Errorf("pipette %s has %d channels, distributions need a single-channel pipette", opts.Pipette.Model, opts.Pipette.Channels)
	}
	if opts.AspirateOffset < 0 || opts.DispenseOffset < 0 {
		return Plan{}, fmt.Errorf("aspirate offset %g and dispense offset %g must not be negative", opts.AspirateOffset, opts.DispenseOffset)
	}
	if opts.MixBefore.Volume > opts.Pipette.MaxVolume {
		opts.MixBefore.Volume = opts.Pipette.MaxVolume
	}
	if len(batches) > 0 {
		if err := checkTips(deck, opts.Pipette, len(batches)); err != nil {
			return Plan{}, err
		}
	}
	plan := Plan{
		Pipette:       opts.Pipette,
		Options:       opts,
		Distributions: make([]Distribution, 0, len(batches)),
		WellVolumes:   make(map[string]float64),
	}
	for _, b := range batches {
		d, err := distribute(b, deck, opts, plan.WellVolumes)
		if err != nil {
			return Plan{}, err
		}
		plan.Distributions = append(plan.Distributions, d)
	}
	return plan, nil
}

// checkTips verifies the deck carries enough of the pipette's tips for need
// distributions, one tip each.
func checkTips(deck *labware.Deck, p labware.Pipette, need int) error {
	tips := 0
	for _, r := range deck.TipRacksFor(p.TipRack) {
		tips += r.Format().Size()
	}
	if tips == 0 {
		return fmt.Errorf("pipette %s needs %s tip racks, none are loaded on the deck", p.Model, p.TipRack)
	}
	if need > tips {
		return fmt.Errorf("plan needs %d tips, deck holds %d %s tips", need, tips, p.TipRack)
	}
	return nil
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Pipette.Model == "" {
		opts.Pipette = def.Pipette
	}
	if opts.Policy == "" {
		opts.Policy = def.Policy
	}
	if opts.BlowOut == "" {
		opts.BlowOut = def.BlowOut
	}
	if opts.FlowRateFraction <= 0 {
		opts.FlowRateFraction = def.FlowRateFraction
	}
	return opts
}

// resolve looks up plate on the deck and returns the well under its
// canonical name, recording the labware's working volume.
func resolve(deck *labware.Deck, plate, well string, volumes map[string]float64) (Location, error) {
	l, err := deck.Resolve(plate)
	if err != nil {
		return Location{}, err
	}
	w, err := l.Format().Check(well)
	if err != nil {
		return Location{}, fmt.Errorf("labware %q: %w", plate, err)
	}
	volumes[l.Name] = l.Definition.WellVolume
	return Location{Labware: l.Name, Slot: l.Slot, Well: w.String()}, nil
}

func distribute(b domain.TransferBatch, deck *labware.Deck, opts Options, volumes map[string]float64) (Distribution, error) {
	src, err := resolve(deck, b.SourcePlate, b.SourceWell, volumes)
	if err != nil {
		return Distribution{}, err
	}
	src = src.Bottom(opts.AspirateOffset)
	capacity := opts.Pipette.MaxVolume
	if opts.Policy == PolicyStrict && b.TotalVolume+opts.DisposalVolume > capacity {
		return Distribution{}, &CapacityError{Source: b.Key(), Required: b.TotalVolume + opts.DisposalVolume, Capacity: capacity, Dispense: -1}
	}
	d := Distribution{Batch: b, Source: src}
	var cur Cycle
	for i, disp := range b.Dispenses() {
		if disp.Volume+opts.DisposalVolume > capacity {
			return Distribution{}, &CapacityError{Source: b.Key(), Required: disp.Volume + opts.DisposalVolume, Capacity: capacity, Dispense: i}
		}
		if disp.Volume < opts.Pipette.MinVolume {
			return Distribution{}, &MinimumVolumeError{Source: b.Key(), Dispense: i, Volume: disp.Volume, Pipette: opts.Pipette}
		}
		if len(cur.Dispenses) > 0 && cur.Aspirate+disp.Volume > capacity {
			d.Cycles = append(d.Cycles, cur)
			cur = Cycle{}
		}
		if len(cur.Dispenses) == 0 {
			cur.Disposal = opts.DisposalVolume
			cur.Aspirate = opts.DisposalVolume
		}
		dst, err := resolve(deck, disp.Plate, disp.Well, volumes)
		if err != nil {
			return Distribution{}, err
		}
		cur.Dispenses = append(cur.Dispenses, Target{Location: dst.Top(-opts.DispenseOffset), Volume: disp.Volume})
		cur.Aspirate += disp.Volume
	}
	if len(cur.Dispenses) > 0 {
		d.Cycles = append(d.Cycles, cur)
	}
	return d, nil
}
