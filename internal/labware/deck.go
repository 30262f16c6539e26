package labware

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"dispensecore/pkg/domain"
)

// MaxSlot is the highest loadable deck slot; slot 12 holds the trash.
const MaxSlot = 11

// Role classifies what a piece of labware is used for.
type Role string

const (
	RoleSource      Role = "source"
	RoleDestination Role = "destination"
	RoleTips        Role = "tips"
	RoleReagent     Role = "reagent"
)

// Labware is a named item loaded in a deck slot.
type Labware struct {
	Name       string
	Slot       int
	Role       Role
	Definition Definition
}

// Format is shorthand for the definition's grid.
func (l Labware) Format() Format { return l.Definition.Format }

// UnknownLabwareError is returned when a transfer list names labware that is
// not loaded on the deck.
type UnknownLabwareError struct {
	Name string
}

func (e *UnknownLabwareError) Error() string {
	return fmt.Sprintf("labware %q is not loaded on the deck", e.Name)
}

// Deck resolves labware names to loaded labware.
type Deck struct {
	Name   string
	byName map[string]Labware
	bySlot map[int]string
}

type deckFile struct {
	Name    string         `yaml:"name"`
	Labware []labwareEntry `yaml:"labware"`
}

type labwareEntry struct {
	Name string `yaml:"name"`
	Slot int    `yaml:"slot"`
	Type string `yaml:"type"`
	Role Role   `yaml:"role"`
}

// NewDeck returns an empty deck.
func NewDeck(name string) *Deck {
	return &Deck{Name: name, byName: make(map[string]Labware), bySlot: make(map[int]string)}
}

// Load places labware of the given type in slot under name.
func (d *Deck) Load(name string, slot int, loadName string, role Role) error {
	if name == "" {
		return errors.New("labware name required")
	}
	if slot < 1 || slot > MaxSlot {
		return fmt.Errorf("labware %q: slot %d out of range 1-%d", name, slot, MaxSlot)
	}
	if other, taken := d.bySlot[slot]; taken {
		return fmt.Errorf("labware %q: slot %d already holds %q", name, slot, other)
	}
	if _, dup := d.byName[name]; dup {
		return fmt.Errorf("labware %q loaded twice", name)
	}
	def, err := LookupDefinition(loadName)
	if err != nil {
		return fmt.Errorf("labware %q: %w", name, err)
	}
	if role == "" {
		role = RoleReagent
		if def.TipRack {
			role = RoleTips
		}
	}
	switch role {
	case RoleSource, RoleDestination, RoleReagent:
		if def.TipRack {
			return fmt.Errorf("labware %q: tip rack cannot have role %s", name, role)
		}
	case RoleTips:
		if !def.TipRack {
			return fmt.Errorf("labware %q: %s is not a tip rack", name, loadName)
		}
	default:
		return fmt.Errorf("labware %q: unknown role %q", name, role)
	}
	d.byName[name] = Labware{Name: name, Slot: slot, Role: role, Definition: def}
	d.bySlot[slot] = name
	return nil
}

// Resolve looks up labware by name.
func (d *Deck) Resolve(name string) (Labware, error) {
	l, ok := d.byName[name]
	if !ok {
		return Labware{}, &UnknownLabwareError{Name: name}
	}
	return l, nil
}

// Labware lists loaded labware in slot order.
func (d *Deck) Labware() []Labware {
	out := make([]Labware, 0, len(d.byName))
	for _, l := range d.byName {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// TipRacks lists tip racks in slot order.
func (d *Deck) TipRacks() []Labware {
	var out []Labware
	for _, l := range d.Labware() {
		if l.Role == RoleTips {
			out = append(out, l)
		}
	}
	return out
}

// TipRacksFor lists the tip racks of type loadName in slot order.
func (d *Deck) TipRacksFor(loadName string) []Labware {
	var out []Labware
	for _, l := range d.TipRacks() {
		if l.Definition.Type == loadName {
			out = append(out, l)
		}
	}
	return out
}

// TipCapacity is the number of tips available across all racks.
func (d *Deck) TipCapacity() int {
	n := 0
	for _, l := range d.TipRacks() {
		n += l.Format().Size()
	}
	return n
}

// ValidateBatches checks that every plate named by the batches is loaded with a
// compatible role and that every well exists on it. All problems are joined.
func (d *Deck) ValidateBatches(batches []domain.TransferBatch) error {
	var errs []error
	check := func(plate, well string, want Role) {
		l, err := d.Resolve(plate)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if l.Role == RoleTips {
			errs = append(errs, fmt.Errorf("labware %q is a tip rack and cannot be used as %s", plate, want))
			return
		}
		if _, err := l.Format().Check(well); err != nil {
			errs = append(errs, fmt.Errorf("labware %q: %w", plate, err))
		}
	}
	for _, b := range batches {
		check(b.SourcePlate, b.SourceWell, RoleSource)
		for i := range b.DestinationPlates {
			check(b.DestinationPlates[i], b.DestinationWells[i], RoleDestination)
		}
	}
	return errors.Join(dedupe(errs)...)
}

func dedupe(errs []error) []error {
	seen := make(map[string]struct{}, len(errs))
	out := errs[:0]
	for _, err := range errs {
		if _, ok := seen[err.Error()]; ok {
			continue
		}
		seen[err.Error()] = struct{}{}
		out = append(out, err)
	}
	return out
}

// LoadDeck parses a YAML deck layout:
//
//	name: cherrypick
//	labware:
//	  - {name: Source 1, slot: 1, type: nest_96_wellplate_2ml_deep, role: source}
func LoadDeck(r io.Reader) (*Deck, error) {
	var f deckFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode deck: %w", err)
	}
	d := NewDeck(f.Name)
	for _, e := range f.Labware {
		if err := d.Load(e.Name, e.Slot, e.Type, e.Role); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// LoadDeckFile reads a YAML deck layout from path.
func LoadDeckFile(path string) (*Deck, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied deck path
	if err != nil {
		return nil, fmt.Errorf("open deck: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadDeck(f)
}

// DefaultCherrypickDeck returns the standard cherry-pick layout: three 300 µL
// tip racks, four 2 mL source plates and four 2 mL destination plates.
func DefaultCherrypickDeck() *Deck {
	const plate = "thermoscientificnunc_96_wellplate_2000ul"
	d := NewDeck("cherrypick")
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	for i, slot := range []int{3, 6, 9} {
		must(d.Load(fmt.Sprintf("Tip Rack %d", i+1), slot, "opentrons_96_tiprack_300ul", RoleTips))
	}
	for i, slot := range []int{1, 4, 7, 10} {
		must(d.Load(fmt.Sprintf("Source %d", i+1), slot, plate, RoleSource))
	}
	for i, slot := range []int{2, 5, 8, 11} {
		must(d.Load(fmt.Sprintf("Destination %d", i+1), slot, plate, RoleDestination))
	}
	return d
}
