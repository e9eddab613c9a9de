package proto

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	line, err := Encode(NewRequest(7, "Pixera.Timelines.GetTimelines", nil))
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"Pixera.Timelines.GetTimelines","params":null,"id":7}`+"\n", string(line))
}

func TestDecodeResponse(t *testing.T) {
	var resp Response
	require.NoError(t, Decode([]byte(`{"jsonrpc":"2.0","result":{"ok":true},"id":3}`+"\r\n"), &resp))
	require.NotNil(t, resp.ID)
	assert.Equal(t, int64(3), *resp.ID)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))

	resp = Response{}
	require.NoError(t, Decode([]byte(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":4}`), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
	assert.Equal(t, "Method not found", resp.Error.Message)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":     []byte("\n"),
		"truncated": []byte(`{"type":"encoder_input"`),
		"not json":  []byte("hello"),
		"bad utf8":  {'{', '"', 0xff, '"', ':', '1', '}'},
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			var msg BridgeMessage
			err := Decode(line, &msg)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestBridgeMessageInput(t *testing.T) {
	var msg BridgeMessage
	require.NoError(t, Decode([]byte(`{"type":"encoder_input","encoder_id":3,"delta":-2}`), &msg))
	in, err := msg.Input()
	require.NoError(t, err)
	assert.Equal(t, EncoderInput{EncoderId: 3, Delta: -2, FineMode: false}, in)

	msg = BridgeMessage{}
	require.NoError(t, Decode([]byte(`{"type":"button_input","button_id":"play","pressed":true}`), &msg))
	in, err = msg.Input()
	require.NoError(t, err)
	assert.Equal(t, ButtonInput{ButtonId: "play", Pressed: true}, in)

	for _, line := range []string{
		`{"type":"encoder_input","delta":1}`,
		`{"type":"button_input","button_id":"play"}`,
		`{"type":"fader_input","value":3}`,
	} {
		msg = BridgeMessage{}
		require.NoError(t, Decode([]byte(line), &msg))
		_, err = msg.Input()
		assert.ErrorIs(t, err, ErrMalformed, line)
	}
}

func TestBridgeMessageEncodeOmitsUnsetFields(t *testing.T) {
	line, err := Encode(NewEncoderUpdate(2, "Opacity", "53.00", "#00FF00"))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"encoder_update","encoder_id":2,"label":"Opacity","value":"53.00","color":"#00FF00"}`+"\n", string(line))

	line, err = Encode(NewEncoderInput(EncoderInput{EncoderId: 0, Delta: 0}))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"encoder_input","encoder_id":0,"delta":0,"fine_mode":false}`+"\n", string(line))
}

func readAll(t *testing.T, r *LineReader) ([]string, []error) {
	t.Helper()
	var lines []string
	var errs []error
	for {
		line, err := r.ReadLine()
		if errors.Is(err, io.EOF) {
			return lines, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lines = append(lines, string(line))
	}
}

func TestLineReaderSplitsLines(t *testing.T) {
	r := NewLineReader(strings.NewReader("{\"a\":1}\n\n{\"b\":2}\r\n{\"c\":3}"), 64)

	lines, errs := readAll(t, r)

	assert.Empty(t, errs)
	assert.Equal(t, []string{"{\"a\":1}\n", "\n", "{\"b\":2}\r\n", `{"c":3}`}, lines)
}

func TestLineReaderSkipsOverLongLine(t *testing.T) {
	input := `{"a":1}` + "\n" + strings.Repeat("x", 10000) + "\n" + `{"b":2}` + "\n"
	r := NewLineReader(strings.NewReader(input), 100)

	lines, errs := readAll(t, r)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrLineTooLong)
	assert.ErrorIs(t, errs[0], ErrMalformed)
	assert.Equal(t, []string{"{\"a\":1}\n", "{\"b\":2}\n"}, lines)
}

func TestLineReaderLimitExcludesNewline(t *testing.T) {
	r := NewLineReader(strings.NewReader(strings.Repeat("y", 8)+"\r\n"+strings.Repeat("z", 9)), 8)

	lines, errs := readAll(t, r)

	assert.Equal(t, []string{strings.Repeat("y", 8) + "\r\n"}, lines)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrLineTooLong)
}

func TestControlMappingValidate(t *testing.T) {
	valid := NewControlMapping("Opacity", "Timelines.Main.Layer1.Opacity")
	require.NoError(t, valid.Validate())
	assert.NotEmpty(t, valid.Id)

	tests := []struct {
		name   string
		mutate func(m *ControlMapping)
	}{
		{"empty path", func(m *ControlMapping) { m.ParameterPath = "  " }},
		{"inverted range", func(m *ControlMapping) { m.MinValue, m.MaxValue = 10, 0 }},
		{"default below range", func(m *ControlMapping) { m.DefaultValue = -1 }},
		{"negative step", func(m *ControlMapping) { m.FineStep = -0.1 }},
		{"nan bound", func(m *ControlMapping) { m.MaxValue = math.NaN() }},
		{"infinite step", func(m *ControlMapping) { m.CoarseStep = math.Inf(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := *valid
			tt.mutate(&m)
			assert.Error(t, m.Validate())
		})
	}

	var nilMapping *ControlMapping
	assert.Error(t, nilMapping.Validate())
}

func TestControlMappingClampAndFormat(t *testing.T) {
	m := NewControlMapping("Pan", "Layer.Pan")
	m.MinValue, m.MaxValue = -1, 1

	assert.Equal(t, 1.0, m.Clamp(5))
	assert.Equal(t, -1.0, m.Clamp(-5))
	assert.Equal(t, 0.25, m.Clamp(0.25))
	assert.Equal(t, -1.0, m.Clamp(math.NaN()))
	assert.Equal(t, 1.0, m.Clamp(math.Inf(1)))

	assert.Equal(t, "0.25", m.Format(0.25))
	m.DisplayFormat = "%.1f°"
	assert.Equal(t, "0.3°", m.Format(0.26))
	m.DisplayFormat = "%d"
	assert.Equal(t, "0.25", m.Format(0.25))

	var unbound *ControlMapping
	assert.Equal(t, "1.50", unbound.Format(1.5))
}

func TestControlMappingJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(&ControlMapping{Id: "x", Label: "L", ParameterPath: "P", MaxValue: 1})
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"id", "label", "parameter_path", "min_value", "max_value", "default_value", "coarse_step", "fine_step", "sync_enabled", "display_format"} {
		assert.Contains(t, fields, key)
	}
}

func TestBridgeMessageRoundTripKeepsFieldSet(t *testing.T) {
	for _, line := range []string{
		`{"type":"encoder_input","encoder_id":2,"delta":-3,"fine_mode":false}`,
		`{"type":"encoder_input","encoder_id":2,"delta":-3}`,
		`{"type":"button_input","button_id":"next_cue","pressed":false}`,
		`{"type":"encoder_update","encoder_id":0,"label":"","value":"0.00","color":"#FFFFFF"}`,
		`{"type":"button_update","button_id":"play","label":"Play","color":"#00FF00"}`,
	} {
		var msg BridgeMessage
		require.NoError(t, Decode([]byte(line), &msg))
		out, err := Encode(msg)
		require.NoError(t, err)
		assert.JSONEq(t, line, string(out))
	}
}
