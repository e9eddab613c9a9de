// Package surface models the encoder and fader slots of a control surface and
// computes clamped value transitions for them.
package surface

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/mbocsi/pixtouch/proto"
)

const (
	DefaultEncoderCount = 6
	DefaultFaderCount   = 8
)

var (
	ErrIndexOutOfRange = errors.New("slot index out of range")
	ErrInvalidMapping  = errors.New("invalid mapping")
	ErrUnknownGroup    = errors.New("unknown slot group")
)

type Group string

const (
	Encoders Group = "encoder"
	Faders   Group = "fader"
)

func ParseGroup(s string) (Group, error) {
	switch s {
	case "encoder", "encoders":
		return Encoders, nil
	case "fader", "faders":
		return Faders, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGroup, s)
}

// ChangeEvent is emitted after a slot value has been stored.
type ChangeEvent struct {
	Group         Group
	Index         int
	Delta         int // encoder only
	FineMode      bool
	Value         float64
	ParameterPath string
	Mapping       *proto.ControlMapping
}

// Engine owns a fixed set of slots. It is not safe for concurrent use;
// callers serialize Bind and Apply calls.
type Engine struct {
	slots    map[Group][]*Slot
	onChange []func(ChangeEvent)
}

func NewEngine(encoders, faders int) *Engine {
	e := &Engine{slots: map[Group][]*Slot{
		Encoders: make([]*Slot, encoders),
		Faders:   make([]*Slot, faders),
	}}
	for g, slots := range e.slots {
		for i := range slots {
			slots[i] = &Slot{group: g, index: i}
		}
	}
	return e
}

// OnChange registers fn for every value change. Handlers run synchronously
// in registration order.
func (e *Engine) OnChange(fn func(ChangeEvent)) {
	e.onChange = append(e.onChange, fn)
}

func (e *Engine) Count(g Group) int {
	return len(e.slots[g])
}

func (e *Engine) slot(g Group, index int) (*Slot, error) {
	slots, ok := e.slots[g]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, g)
	}
	if index < 0 || index >= len(slots) {
		return nil, fmt.Errorf("%w: %s %d (have %d)", ErrIndexOutOfRange, g, index, len(slots))
	}
	return slots[index], nil
}

// Bind replaces the mapping of a slot with a copy of m. A non-nil mapping
// resets the value to its default; nil leaves the value as is, now
// unconstrained.
func (e *Engine) Bind(g Group, index int, m *proto.ControlMapping) error {
	s, err := e.slot(g, index)
	if err != nil {
		return err
	}
	if m != nil {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMapping, err)
		}
		cp := *m
		m = &cp
	}
	s.mapping = m
	if m != nil {
		s.value = m.DefaultValue
	}
	slog.Debug("Slot bound", "group", g, "index", index, "bound", m != nil, "value", s.value)
	return nil
}

// ApplyEncoderDelta steps an encoder by delta coarse or fine steps.
// Unbound or unknown encoders are left untouched and emit nothing.
func (e *Engine) ApplyEncoderDelta(index, delta int, fineMode bool) float64 {
	s, err := e.slot(Encoders, index)
	if err != nil {
		return 0
	}
	if s.mapping == nil {
		return s.value
	}
	step := s.mapping.CoarseStep
	if fineMode {
		step = s.mapping.FineStep
	}
	s.value = s.mapping.Clamp(s.value + float64(delta)*step)
	e.emit(ChangeEvent{Group: Encoders, Index: index, Delta: delta, FineMode: fineMode, Value: s.value, ParameterPath: s.mapping.ParameterPath, Mapping: s.mapping})
	return s.value
}

// ApplyFaderSet moves a fader to an absolute value, clamped to its range.
// NaN is ignored like input for an unbound fader.
func (e *Engine) ApplyFaderSet(index int, value float64) float64 {
	s, err := e.slot(Faders, index)
	if err != nil {
		return 0
	}
	if s.mapping == nil || math.IsNaN(value) {
		return s.value
	}
	s.value = s.mapping.Clamp(value)
	e.emit(ChangeEvent{Group: Faders, Index: index, Value: s.value, ParameterPath: s.mapping.ParameterPath, Mapping: s.mapping})
	return s.value
}

// Reset returns a bound slot to its default value and emits the change.
func (e *Engine) Reset(g Group, index int) error {
	s, err := e.slot(g, index)
	if err != nil {
		return err
	}
	if s.mapping == nil {
		return nil
	}
	s.value = s.mapping.DefaultValue
	e.emit(ChangeEvent{Group: g, Index: index, Value: s.value, ParameterPath: s.mapping.ParameterPath, Mapping: s.mapping})
	return nil
}

func (e *Engine) emit(ev ChangeEvent) {
	for _, fn := range e.onChange {
		fn(ev)
	}
}

func (e *Engine) Slot(g Group, index int) (SlotInfo, error) {
	s, err := e.slot(g, index)
	if err != nil {
		return SlotInfo{}, err
	}
	return s.info(), nil
}

func (e *Engine) Slots(g Group) []SlotInfo {
	slots := e.slots[g]
	res := make([]SlotInfo, 0, len(slots))
	for _, s := range slots {
		res = append(res, s.info())
	}
	return res
}
