package surface

import (
	"fmt"

	"github.com/mbocsi/pixtouch/proto"
)

type Slot struct {
	group   Group
	index   int
	mapping *proto.ControlMapping
	value   float64
}

func (s *Slot) Label() string {
	if s.mapping != nil && s.mapping.Label != "" {
		return s.mapping.Label
	}
	switch s.group {
	case Faders:
		return fmt.Sprintf("Fader %d", s.index+1)
	default:
		return fmt.Sprintf("Encoder %d", s.index+1)
	}
}

func (s *Slot) FormattedValue() string {
	return s.mapping.Format(s.value)
}

// SlotInfo is a read-only snapshot of a slot.
type SlotInfo struct {
	Group          Group                 `json:"group"`
	Index          int                   `json:"index"`
	Label          string                `json:"label"`
	Value          float64               `json:"value"`
	FormattedValue string                `json:"formatted_value"`
	Mapping        *proto.ControlMapping `json:"mapping,omitempty"`
}

func (s *Slot) info() SlotInfo {
	var m *proto.ControlMapping
	if s.mapping != nil {
		cp := *s.mapping
		m = &cp
	}
	return SlotInfo{
		Group:          s.group,
		Index:          s.index,
		Label:          s.Label(),
		Value:          s.value,
		FormattedValue: s.FormattedValue(),
		Mapping:        m,
	}
}
