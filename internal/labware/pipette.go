package labware

import (
	"fmt"
	"sort"
)

// Pipette describes a mounted pipette model.
type Pipette struct {
	Model     string
	Channels  int
	MinVolume float64
	MaxVolume float64
	// DispenseFlowRate is the default dispense rate in µL/s.
	DispenseFlowRate float64
	TipRack          string
}

var pipettes = map[string]Pipette{
	"p20_single_gen2":   {Model: "p20_single_gen2", Channels: 1, MinVolume: 1, MaxVolume: 20, DispenseFlowRate: 7.56, TipRack: "opentrons_96_tiprack_20ul"},
	"p300_single_gen2":  {Model: "p300_single_gen2", Channels: 1, MinVolume: 20, MaxVolume: 300, DispenseFlowRate: 92.86, TipRack: "opentrons_96_tiprack_300ul"},
	"p1000_single_gen2": {Model: "p1000_single_gen2", Channels: 1, MinVolume: 100, MaxVolume: 1000, DispenseFlowRate: 274.7, TipRack: "opentrons_96_tiprack_1000ul"},
	"p20_multi_gen2":    {Model: "p20_multi_gen2", Channels: 8, MinVolume: 1, MaxVolume: 20, DispenseFlowRate: 7.6, TipRack: "opentrons_96_tiprack_20ul"},
	"p300_multi_gen2":   {Model: "p300_multi_gen2", Channels: 8, MinVolume: 20, MaxVolume: 300, DispenseFlowRate: 94, TipRack: "opentrons_96_tiprack_300ul"},
}

// LookupPipette returns the model definition.
func LookupPipette(model string) (Pipette, error) {
	p, ok := pipettes[model]
	if !ok {
		return Pipette{}, fmt.Errorf("unknown pipette model %q (known: %v)", model, PipetteModels())
	}
	return p, nil
}

// PipetteModels lists the known models in sorted order.
func PipetteModels() []string {
	out := make([]string, 0, len(pipettes))
	for m := range pipettes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
