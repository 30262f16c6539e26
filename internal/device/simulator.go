package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dispensecore/internal/planner"
)

// CommandKind names a recorded device command.
type CommandKind string

const (
	CmdPickUpTip CommandKind = "pick_up_tip"
	CmdDropTip   CommandKind = "drop_tip"
	CmdAspirate  CommandKind = "aspirate"
	CmdDispense  CommandKind = "dispense"
	CmdMix       CommandKind = "mix"
	CmdTouchTip  CommandKind = "touch_tip"
	CmdBlowOut   CommandKind = "blow_out"
	CmdFlowRate  CommandKind = "set_flow_rate"
)

// Command is one entry of the simulator log.
type Command struct {
	Kind        CommandKind       `json:"kind"`
	Location    *planner.Location `json:"location,omitempty"`
	Volume      float64           `json:"volume,omitempty"`
	Repetitions int               `json:"repetitions,omitempty"`
}

func (c Command) String() string {
	switch {
	case c.Location == nil && c.Volume != 0:
		return fmt.Sprintf("%s %g", c.Kind, c.Volume)
	case c.Location == nil:
		return string(c.Kind)
	case c.Repetitions > 0:
		return fmt.Sprintf("%s %d×%g µL at %s", c.Kind, c.Repetitions, c.Volume, c.Location)
	case c.Volume != 0:
		return fmt.Sprintf("%s %g µL at %s%s", c.Kind, c.Volume, c.Location, height(c.Location))
	default:
		return fmt.Sprintf("%s at %s", c.Kind, c.Location)
	}
}

func height(loc *planner.Location) string {
	if loc.Origin == "" {
		return ""
	}
	return fmt.Sprintf(", %+g mm from %s", loc.Offset, loc.Origin)
}

// Simulator records commands and checks tip and volume bookkeeping. Wells
// start empty unless seeded with Fill; aspirating from an unseeded well is
// allowed and drives its balance negative, which Balance reports. Labware
// given a working volume with SetWellVolume rejects liquid that would
// overflow a well.
type Simulator struct {
	mu       sync.Mutex
	capacity float64
	hasTip   bool
	inTip    float64
	tipsUsed int
	wells    map[string]float64
	limits   map[string]float64
	log      []Command
}

// NewSimulator returns a simulator for a pipette holding capacity µL.
func NewSimulator(capacity float64) *Simulator {
	return &Simulator{capacity: capacity, wells: make(map[string]float64), limits: make(map[string]float64)}
}

// SetWellVolume caps every well of the named labware at volume µL.
func (s *Simulator) SetWellVolume(labware string, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[labware] = volume
}

// add puts volume into loc's well, refusing to overflow it.
func (s *Simulator) add(kind CommandKind, loc planner.Location, volume float64) error {
	key := wellKey(loc)
	if limit, ok := s.limits[loc.Labware]; ok && limit > 0 && s.wells[key]+volume > limit+1e-9 {
		return fmt.Errorf("%s %g µL at %s: well would hold %g µL, working volume %g µL", kind, volume, loc, s.wells[key]+volume, limit)
	}
	s.wells[key] += volume
	return nil
}

var _ Device = (*Simulator)(nil)

func wellKey(loc planner.Location) string { return loc.Labware + "/" + loc.Well }

// Fill seeds a well with volume µL.
func (s *Simulator) Fill(loc planner.Location, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wells[wellKey(loc)] += volume
}

// Balance returns the current volume of a well.
func (s *Simulator) Balance(loc planner.Location) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wells[wellKey(loc)]
}

// Commands returns a copy of the command log.
func (s *Simulator) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.log...)
}

// TipsUsed counts tips picked up.
func (s *Simulator) TipsUsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tipsUsed
}

func (s *Simulator) record(c Command) {
	s.log = append(s.log, c)
}

func at(loc planner.Location) *planner.Location { return &loc }

var errNoTip = errors.New("no tip attached")

func (s *Simulator) PickUpTip(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasTip {
		return errors.New("tip already attached")
	}
	s.hasTip = true
	s.tipsUsed++
	s.record(Command{Kind: CmdPickUpTip})
	return nil
}

func (s *Simulator) DropTip(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasTip {
		return errNoTip
	}
	s.hasTip = false
	s.inTip = 0
	s.record(Command{Kind: CmdDropTip})
	return nil
}

func (s *Simulator) Aspirate(_ context.Context, loc planner.Location, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasTip {
		return errNoTip
	}
	if s.inTip+volume > s.capacity+1e-9 {
		return fmt.Errorf("aspirate %g µL at %s: tip would hold %g µL, capacity %g µL", volume, loc, s.inTip+volume, s.capacity)
	}
	s.inTip += volume
	s.wells[wellKey(loc)] -= volume
	s.record(Command{Kind: CmdAspirate, Location: at(loc), Volume: volume})
	return nil
}

func (s *Simulator) Dispense(_ context.Context, loc planner.Location, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasTip {
		return errNoTip
	}
	if volume > s.inTip+1e-9 {
		return fmt.Errorf("dispense %g µL at %s: tip holds %g µL", volume, loc, s.inTip)
	}
	if err := s.add(CmdDispense, loc, volume); err != nil {
		return err
	}
	s.inTip -= volume
	s.record(Command{Kind: CmdDispense, Location: at(loc), Volume: volume})
	return nil
}

func (s *Simulator) Mix(_ context.Context, loc planner.Location, repetitions int, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasTip {
		return errNoTip
	}
	if volume > s.capacity {
		return fmt.Errorf("mix %g µL exceeds capacity %g µL", volume, s.capacity)
	}
	s.record(Command{Kind: CmdMix, Location: at(loc), Volume: volume, Repetitions: repetitions})
	return nil
}

func (s *Simulator) TouchTip(_ context.Context, loc planner.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasTip {
		return errNoTip
	}
	s.record(Command{Kind: CmdTouchTip, Location: at(loc)})
	return nil
}

// BlowOut expels whatever the tip still holds into loc.
func (s *Simulator) BlowOut(_ context.Context, loc planner.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasTip {
		return errNoTip
	}
	if err := s.add(CmdBlowOut, loc, s.inTip); err != nil {
		return err
	}
	s.inTip = 0
	s.record(Command{Kind: CmdBlowOut, Location: at(loc)})
	return nil
}

func (s *Simulator) SetDispenseFlowRate(_ context.Context, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate <= 0 {
		return fmt.Errorf("flow rate %g must be positive", rate)
	}
	s.record(Command{Kind: CmdFlowRate, Volume: rate})
	return nil
}
