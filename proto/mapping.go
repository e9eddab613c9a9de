package proto

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

const DefaultDisplayFormat = "%.2f"

// ControlMapping binds a slot to a remote parameter.
type ControlMapping struct {
	Id            string  `json:"id"`
	Label         string  `json:"label"`
	ParameterPath string  `json:"parameter_path"` // Remote address, e.g. "Timelines.Main.Layer1.Opacity"
	MinValue      float64 `json:"min_value"`
	MaxValue      float64 `json:"max_value"`
	DefaultValue  float64 `json:"default_value"`
	CoarseStep    float64 `json:"coarse_step"`
	FineStep      float64 `json:"fine_step"`
	SyncEnabled   bool    `json:"sync_enabled"`
	DisplayFormat string  `json:"display_format"` // fmt verb applied to the value, e.g. "%.1f°"
}

// NewControlMapping returns a mapping with a fresh id and the stock range 0..100.
func NewControlMapping(label, parameterPath string) *ControlMapping {
	return &ControlMapping{
		Id:            uuid.NewString(),
		Label:         label,
		ParameterPath: parameterPath,
		MinValue:      0,
		MaxValue:      100,
		DefaultValue:  0,
		CoarseStep:    1,
		FineStep:      0.1,
		SyncEnabled:   true,
		DisplayFormat: DefaultDisplayFormat,
	}
}

func (m *ControlMapping) Validate() error {
	if m == nil {
		return errors.New("mapping is nil")
	}
	if strings.TrimSpace(m.ParameterPath) == "" {
		return fmt.Errorf("mapping %q: parameter path is required", m.Label)
	}
	for name, v := range map[string]float64{
		"min_value":     m.MinValue,
		"max_value":     m.MaxValue,
		"default_value": m.DefaultValue,
		"coarse_step":   m.CoarseStep,
		"fine_step":     m.FineStep,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("mapping %q: %s must be finite", m.Label, name)
		}
	}
	if m.MinValue > m.MaxValue {
		return fmt.Errorf("mapping %q: min_value %g exceeds max_value %g", m.Label, m.MinValue, m.MaxValue)
	}
	if m.DefaultValue < m.MinValue || m.DefaultValue > m.MaxValue {
		return fmt.Errorf("mapping %q: default_value %g outside [%g, %g]", m.Label, m.DefaultValue, m.MinValue, m.MaxValue)
	}
	if m.CoarseStep < 0 || m.FineStep < 0 {
		return fmt.Errorf("mapping %q: steps must not be negative", m.Label)
	}
	return nil
}

// Clamp limits v to the mapping range. NaN maps to MinValue.
func (m *ControlMapping) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return m.MinValue
	}
	return math.Min(math.Max(v, m.MinValue), m.MaxValue)
}

// Format renders v with the display format, falling back to two decimals.
func (m *ControlMapping) Format(v float64) string {
	format := DefaultDisplayFormat
	if m != nil && m.DisplayFormat != "" {
		format = m.DisplayFormat
	}
	s := fmt.Sprintf(format, v)
	if strings.Contains(s, "%!") {
		return fmt.Sprintf(DefaultDisplayFormat, v)
	}
	return s
}
