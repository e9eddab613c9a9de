package surface

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/pixtouch/proto"
)

func testMapping(def, coarse, fine float64) *proto.ControlMapping {
	m := proto.NewControlMapping("Opacity", "Timelines.Main.Layer1.Opacity")
	m.MinValue, m.MaxValue = 0, 100
	m.DefaultValue = def
	m.CoarseStep = coarse
	m.FineStep = fine
	return m
}

func recordChanges(e *Engine) *[]ChangeEvent {
	var events []ChangeEvent
	e.OnChange(func(ev ChangeEvent) { events = append(events, ev) })
	return &events
}

func TestApplyEncoderDelta_CoarseStep(t *testing.T) {
	e := NewEngine(DefaultEncoderCount, DefaultFaderCount)
	events := recordChanges(e)
	require.NoError(t, e.Bind(Encoders, 0, testMapping(50, 5, 0.1)))

	v := e.ApplyEncoderDelta(0, 1, false)

	assert.Equal(t, 55.0, v)
	require.Len(t, *events, 1)
	ev := (*events)[0]
	assert.Equal(t, 55.0, ev.Value)
	assert.Equal(t, "Timelines.Main.Layer1.Opacity", ev.ParameterPath)
	assert.Equal(t, Encoders, ev.Group)
	assert.Equal(t, 1, ev.Delta)
}

func TestApplyEncoderDelta_ClampsToMax(t *testing.T) {
	e := NewEngine(DefaultEncoderCount, DefaultFaderCount)
	require.NoError(t, e.Bind(Encoders, 0, testMapping(95, 10, 0.1)))

	assert.Equal(t, 100.0, e.ApplyEncoderDelta(0, 1, false))

	info, err := e.Slot(Encoders, 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, info.Value)
	assert.Equal(t, "100.00", info.FormattedValue)
}

func TestApplyEncoderDelta_FineStep(t *testing.T) {
	e := NewEngine(DefaultEncoderCount, DefaultFaderCount)
	require.NoError(t, e.Bind(Encoders, 0, testMapping(50, 5, 0.5)))

	assert.Equal(t, 50.5, e.ApplyEncoderDelta(0, 1, true))
}

func TestApplyEncoderDelta_ClampsToMinAndStillEmits(t *testing.T) {
	e := NewEngine(DefaultEncoderCount, DefaultFaderCount)
	events := recordChanges(e)
	require.NoError(t, e.Bind(Encoders, 2, testMapping(3, 5, 0.1)))

	assert.Equal(t, 0.0, e.ApplyEncoderDelta(2, -1, false))
	assert.Equal(t, 0.0, e.ApplyEncoderDelta(2, -1, false))
	assert.Len(t, *events, 2)
}

func TestApplyEncoderDelta_UnboundOrUnknownIsNoop(t *testing.T) {
	e := NewEngine(DefaultEncoderCount, DefaultFaderCount)
	events := recordChanges(e)

	assert.Equal(t, 0.0, e.ApplyEncoderDelta(1, 4, false))
	assert.Equal(t, 0.0, e.ApplyEncoderDelta(99, 4, false))
	assert.Equal(t, 0.0, e.ApplyEncoderDelta(-1, 4, false))
	assert.Empty(t, *events)
}

func TestApplyFaderSet(t *testing.T) {
	e := NewEngine(DefaultEncoderCount, DefaultFaderCount)
	events := recordChanges(e)
	require.NoError(t, e.Bind(Faders, 7, testMapping(0, 1, 0.1)))

	assert.Equal(t, 42.5, e.ApplyFaderSet(7, 42.5))
	assert.Equal(t, 100.0, e.ApplyFaderSet(7, 250))
	assert.Equal(t, 0.0, e.ApplyFaderSet(7, -3))
	require.Len(t, *events, 3)
	assert.Equal(t, Faders, (*events)[0].Group)

	assert.Equal(t, 0.0, e.ApplyFaderSet(8, 10))
	assert.Len(t, *events, 3)
}

func TestBind(t *testing.T) {
	e := NewEngine(2, 1)

	t.Run("rebind resets to new default", func(t *testing.T) {
		require.NoError(t, e.Bind(Encoders, 0, testMapping(50, 5, 0.1)))
		e.ApplyEncoderDelta(0, 3, false)
		require.NoError(t, e.Bind(Encoders, 0, testMapping(20, 5, 0.1)))
		info, _ := e.Slot(Encoders, 0)
		assert.Equal(t, 20.0, info.Value)
	})

	t.Run("unbind keeps value", func(t *testing.T) {
		require.NoError(t, e.Bind(Encoders, 0, nil))
		info, _ := e.Slot(Encoders, 0)
		assert.Equal(t, 20.0, info.Value)
		assert.Nil(t, info.Mapping)
		assert.Equal(t, "Encoder 1", info.Label)
	})

	t.Run("invalid mapping rejected", func(t *testing.T) {
		bad := testMapping(50, 5, 0.1)
		bad.MinValue = 200
		assert.ErrorIs(t, e.Bind(Encoders, 1, bad), ErrInvalidMapping)
	})

	t.Run("index out of range", func(t *testing.T) {
		assert.ErrorIs(t, e.Bind(Encoders, 2, testMapping(0, 1, 1)), ErrIndexOutOfRange)
		assert.ErrorIs(t, e.Bind(Faders, -1, testMapping(0, 1, 1)), ErrIndexOutOfRange)
	})

	t.Run("unknown group", func(t *testing.T) {
		assert.ErrorIs(t, e.Bind(Group("knob"), 0, nil), ErrUnknownGroup)
	})
}

func TestReset(t *testing.T) {
	e := NewEngine(1, 1)
	events := recordChanges(e)
	require.NoError(t, e.Bind(Encoders, 0, testMapping(50, 5, 0.1)))
	e.ApplyEncoderDelta(0, 4, false)

	require.NoError(t, e.Reset(Encoders, 0))
	info, _ := e.Slot(Encoders, 0)
	assert.Equal(t, 50.0, info.Value)
	assert.Len(t, *events, 2)

	require.NoError(t, e.Reset(Faders, 0))
	assert.Len(t, *events, 2)
	assert.ErrorIs(t, e.Reset(Faders, 3), ErrIndexOutOfRange)
}

func TestSlotsSnapshot(t *testing.T) {
	e := NewEngine(3, 2)
	require.NoError(t, e.Bind(Faders, 1, testMapping(10, 1, 0.1)))

	faders := e.Slots(Faders)
	require.Len(t, faders, 2)
	assert.Equal(t, "Fader 1", faders[0].Label)
	assert.Equal(t, "Opacity", faders[1].Label)
	assert.Equal(t, "10.00", faders[1].FormattedValue)

	faders[1].Mapping.MaxValue = 1
	again, _ := e.Slot(Faders, 1)
	assert.Equal(t, 100.0, again.Mapping.MaxValue)

	assert.Len(t, e.Slots(Encoders), 3)
	assert.Equal(t, 3, e.Count(Encoders))
}

func TestParseGroup(t *testing.T) {
	for in, want := range map[string]Group{"encoder": Encoders, "encoders": Encoders, "fader": Faders, "faders": Faders} {
		g, err := ParseGroup(in)
		require.NoError(t, err)
		assert.Equal(t, want, g)
	}
	_, err := ParseGroup("button")
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestClampInvariantOverSequence(t *testing.T) {
	e := NewEngine(1, 1)
	m := testMapping(50, 7, 0.3)
	m.MinValue, m.MaxValue = 10, 90
	require.NoError(t, e.Bind(Encoders, 0, m))
	require.NoError(t, e.Bind(Faders, 0, m))

	deltas := []int{1, 5, 12, -3, -40, 100, -100, 0, 2, -7, 33}
	for i, d := range deltas {
		v := e.ApplyEncoderDelta(0, d, i%2 == 0)
		assert.GreaterOrEqual(t, v, 10.0)
		assert.LessOrEqual(t, v, 90.0)

		f := e.ApplyFaderSet(0, float64(d*3))
		assert.GreaterOrEqual(t, f, 10.0)
		assert.LessOrEqual(t, f, 90.0)
	}
}

func TestRebindSameMappingResetsToDefault(t *testing.T) {
	e := NewEngine(1, 0)
	m := testMapping(30, 5, 0.1)

	for i := 0; i < 2; i++ {
		require.NoError(t, e.Bind(Encoders, 0, m))
		info, _ := e.Slot(Encoders, 0)
		assert.Equal(t, 30.0, info.Value)
		e.ApplyEncoderDelta(0, 2, false)
	}
}

func TestApplyFaderSet_IgnoresNaN(t *testing.T) {
	e := NewEngine(0, 1)
	events := recordChanges(e)
	require.NoError(t, e.Bind(Faders, 0, testMapping(50, 1, 0.1)))

	v := e.ApplyFaderSet(0, math.NaN())

	assert.Equal(t, 50.0, v)
	info, _ := e.Slot(Faders, 0)
	assert.Equal(t, 50.0, info.Value)
	assert.Empty(t, *events)
}

func TestBind_CopiesMapping(t *testing.T) {
	e := NewEngine(1, 0)
	m := testMapping(50, 10, 0.1)
	require.NoError(t, e.Bind(Encoders, 0, m))

	m.MaxValue = 1000
	m.CoarseStep = 500

	assert.Equal(t, 60.0, e.ApplyEncoderDelta(0, 1, false))
	assert.Equal(t, 100.0, e.ApplyEncoderDelta(0, 10, false))
	info, _ := e.Slot(Encoders, 0)
	assert.Equal(t, 100.0, info.Mapping.MaxValue)
}
