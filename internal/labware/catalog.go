package labware

import "fmt"

// Definition is the static description of a labware type.
type Definition struct {
	Type   string
	Format Format
	// WellVolume is the working volume of a single well in µL.
	WellVolume float64
	TipRack    bool
}

var definitions = map[string]Definition{
	"opentrons_96_tiprack_20ul":                          {Format: Format96, WellVolume: 20, TipRack: true},
	"opentrons_96_tiprack_300ul":                         {Format: Format96, WellVolume: 300, TipRack: true},
	"opentrons_96_tiprack_1000ul":                        {Format: Format96, WellVolume: 1000, TipRack: true},
	"thermoscientificnunc_96_wellplate_2000ul":           {Format: Format96, WellVolume: 2000},
	"nest_96_wellplate_2ml_deep":                         {Format: Format96, WellVolume: 2000},
	"nest_96_wellplate_200ul_on_basepiece":               {Format: Format96, WellVolume: 200},
	"nest_96_wellplate_100ul_pcr_full_skirt":             {Format: Format96, WellVolume: 100},
	"opentrons_96_aluminumblock_generic_pcr_strip_200ul": {Format: Format96, WellVolume: 200},
	"corning_384_wellplate_112ul_flat":                   {Format: Format384, WellVolume: 112},
	"opentrons_24_tuberack_generic_2ml_screwcap":         {Format: Format24, WellVolume: 2000},
	"custom_24_tuberack_750ul":                           {Format: Format24, WellVolume: 750},
	"opentrons_6_tuberack_falcon_50ml_conical":           {Format: Format6, WellVolume: 50000},
}

// LookupDefinition returns the definition of a labware type.
func LookupDefinition(loadName string) (Definition, error) {
	d, ok := definitions[loadName]
	if !ok {
		return Definition{}, fmt.Errorf("unknown labware type %q", loadName)
	}
	d.Type = loadName
	return d, nil
}
