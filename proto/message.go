package proto

import (
	"fmt"
)

// Bridge message types exchanged with the control-surface plugin.
const (
	TypeEncoderInput  = "encoder_input"  // plugin -> bridge
	TypeButtonInput   = "button_input"   // plugin -> bridge
	TypeEncoderUpdate = "encoder_update" // bridge -> plugin
	TypeButtonUpdate  = "button_update"  // bridge -> plugin
)

// BridgeMessage is the line-protocol envelope. Only the fields of the
// variant named by Type are set; the rest stay nil and are omitted on encode.
type BridgeMessage struct {
	Type      string  `json:"type"`
	EncoderId *int    `json:"encoder_id,omitempty"`
	Label     *string `json:"label,omitempty"`
	Value     *string `json:"value,omitempty"`
	Color     *string `json:"color,omitempty"`
	Delta     *int    `json:"delta,omitempty"`
	FineMode  *bool   `json:"fine_mode,omitempty"`
	ButtonId  *string `json:"button_id,omitempty"`
	Pressed   *bool   `json:"pressed,omitempty"`
}

type EncoderInput struct {
	EncoderId int
	Delta     int
	FineMode  bool
}

type ButtonInput struct {
	ButtonId string
	Pressed  bool
}

func NewEncoderUpdate(encoderId int, label, value, color string) BridgeMessage {
	return BridgeMessage{Type: TypeEncoderUpdate, EncoderId: &encoderId, Label: &label, Value: &value, Color: &color}
}

func NewButtonUpdate(buttonId, label, color string) BridgeMessage {
	return BridgeMessage{Type: TypeButtonUpdate, ButtonId: &buttonId, Label: &label, Color: &color}
}

func NewEncoderInput(in EncoderInput) BridgeMessage {
	return BridgeMessage{Type: TypeEncoderInput, EncoderId: &in.EncoderId, Delta: &in.Delta, FineMode: &in.FineMode}
}

func NewButtonInput(in ButtonInput) BridgeMessage {
	return BridgeMessage{Type: TypeButtonInput, ButtonId: &in.ButtonId, Pressed: &in.Pressed}
}

// Input converts an inbound message into EncoderInput or ButtonInput.
// Unknown types and missing required fields yield ErrMalformed.
// fine_mode is optional and defaults to false.
func (m BridgeMessage) Input() (any, error) {
	switch m.Type {
	case TypeEncoderInput:
		if m.EncoderId == nil || m.Delta == nil {
			return nil, fmt.Errorf("%w: %s requires encoder_id and delta", ErrMalformed, m.Type)
		}
		in := EncoderInput{EncoderId: *m.EncoderId, Delta: *m.Delta}
		if m.FineMode != nil {
			in.FineMode = *m.FineMode
		}
		return in, nil
	case TypeButtonInput:
		if m.ButtonId == nil || m.Pressed == nil {
			return nil, fmt.Errorf("%w: %s requires button_id and pressed", ErrMalformed, m.Type)
		}
		return ButtonInput{ButtonId: *m.ButtonId, Pressed: *m.Pressed}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
}
