package core

import (
	"errors"
	"slices"
	"sync"
)

var (
	ErrInvalidCommand    = errors.New("invalid command")
	ErrUnsupportedEffect = errors.New("effect not supported by device")
	ErrInvalidZone       = errors.New("zone out of range")
)

// Range is an inclusive integer range advertised by the device.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Clamp forces v into the range.
func (r Range) Clamp(v int) int {
	return clampInt(v, r.Min, r.Max)
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Capabilities describes what a device supports.
type Capabilities struct {
	Effects    []EffectKind `json:"effects"`
	Brightness Range        `json:"brightness"`
	Speed      Range        `json:"speed"`
}

// Supports reports whether the effect is in the supported set.
func (c Capabilities) Supports(k EffectKind) bool {
	return slices.Contains(c.Effects, k)
}

// EngineState is the lighting configuration owned by the effect engine.
// It is also the payload of a saved profile.
type EngineState struct {
	Effect     EffectKind `json:"effect"`
	Direction  Direction  `json:"direction,omitempty"`
	Script     string     `json:"script,omitempty"`
	Brightness int        `json:"brightness"`
	Speed      int        `json:"speed"`
	Zones      []RGB      `json:"zones"`
}

// DefaultState is static white at full brightness and the slowest speed.
func DefaultState(caps Capabilities, zones int) EngineState {
	s := EngineState{
		Effect:     EffectStatic,
		Direction:  DirectionRight,
		Brightness: caps.Brightness.Max,
		Speed:      caps.Speed.Min,
		Zones:      make([]RGB, zones),
	}
	for i := range s.Zones {
		s.Zones[i] = White
	}
	return s
}

// Clone returns a deep copy.
func (s EngineState) Clone() EngineState {
	c := s
	c.Zones = slices.Clone(s.Zones)
	return c
}

// Normalize clamps brightness and speed to the device ranges and sizes the zone
// table to the device layout. Unknown or unsupported effects fall back to static.
func (s EngineState) Normalize(caps Capabilities, zones int) EngineState {
	n := s.Clone()
	n.Brightness = caps.Brightness.Clamp(n.Brightness)
	n.Speed = caps.Speed.Clamp(n.Speed)
	if n.Effect == "" || !caps.Supports(n.Effect) {
		n.Effect = EffectStatic
	}
	if n.Direction != DirectionLeft {
		n.Direction = DirectionRight
	}

	fill := White
	if len(n.Zones) > 0 {
		fill = n.Zones[0]
	}
	switch {
	case len(n.Zones) > zones:
		n.Zones = n.Zones[:zones]
	case len(n.Zones) < zones:
		for len(n.Zones) < zones {
			n.Zones = append(n.Zones, fill)
		}
	}
	if n.Zones == nil {
		n.Zones = []RGB{}
	}
	return n
}

// Equal compares two states field by field.
func (s EngineState) Equal(o EngineState) bool {
	return s.Effect == o.Effect &&
		s.Direction == o.Direction &&
		s.Script == o.Script &&
		s.Brightness == o.Brightness &&
		s.Speed == o.Speed &&
		slices.Equal(s.Zones, o.Zones)
}

// StateView mirrors the engine state for front-ends. It is fed from status
// events and never written back into the engine.
type StateView struct {
	mu        sync.RWMutex
	state     EngineState
	phase     string
	lastError string
	commands  uint64
}

// NewStateView creates an empty view.
func NewStateView() *StateView {
	return &StateView{phase: "idle"}
}

// Snapshot is a point-in-time copy of a StateView.
type Snapshot struct {
	State     EngineState `json:"state"`
	Phase     string      `json:"phase"`
	LastError string      `json:"lastError,omitempty"`
	Commands  uint64      `json:"commands"`
}

// Snapshot returns a copy safe to read without locking.
func (v *StateView) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Snapshot{
		State:     v.state.Clone(),
		Phase:     v.phase,
		LastError: v.lastError,
		Commands:  v.commands,
	}
}

// SetState replaces the mirrored engine state.
func (v *StateView) SetState(s EngineState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = s.Clone()
	v.commands++
}

// SetPhase updates the mirrored engine phase.
func (v *StateView) SetPhase(phase string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.phase = phase
}

// SetError records the last reported error message.
func (v *StateView) SetError(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastError = msg
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
