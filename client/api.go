package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Remote method names of the media server API.
const (
	MethodStartTimeline    = "Pixera.Timelines.StartTimeline"
	MethodStopTimeline     = "Pixera.Timelines.StopTimeline"
	MethodPauseTimeline    = "Pixera.Timelines.PauseTimeline"
	MethodJumpToCue        = "Pixera.Timelines.JumpToCue"
	MethodGetTimelines     = "Pixera.Timelines.GetTimelines"
	MethodSetParameter     = "Pixera.Direct.SetParameter"
	MethodGetParameter     = "Pixera.Direct.GetParameter"
	MethodSetLayerOpacity  = "Pixera.Layers.SetOpacity"
	MethodSetLayerPosition = "Pixera.Layers.SetPosition"
	MethodSetLayerScale    = "Pixera.Layers.SetScale"
	MethodSetLayerRotation = "Pixera.Layers.SetRotation"
)

type Timeline struct {
	Id          string  `mapstructure:"id"`
	Name        string  `mapstructure:"name"`
	Opacity     float64 `mapstructure:"opacity"`
	IsPlaying   bool    `mapstructure:"isPlaying"`
	CurrentTime float64 `mapstructure:"currentTime"`
	Duration    float64 `mapstructure:"duration"`
}

func (c *Client) call(ctx context.Context, method string, params any) error {
	_, err := c.Invoke(ctx, method, params)
	return err
}

func (c *Client) StartTimeline(ctx context.Context, timelineId string) error {
	return c.call(ctx, MethodStartTimeline, map[string]any{"timelineId": timelineId})
}

func (c *Client) StopTimeline(ctx context.Context, timelineId string) error {
	return c.call(ctx, MethodStopTimeline, map[string]any{"timelineId": timelineId})
}

func (c *Client) PauseTimeline(ctx context.Context, timelineId string) error {
	return c.call(ctx, MethodPauseTimeline, map[string]any{"timelineId": timelineId})
}

func (c *Client) JumpToCue(ctx context.Context, timelineId, cueId string) error {
	return c.call(ctx, MethodJumpToCue, map[string]any{"timelineId": timelineId, "cueId": cueId})
}

func (c *Client) SetParameter(ctx context.Context, path string, value float64) error {
	return c.call(ctx, MethodSetParameter, map[string]any{"path": path, "value": value})
}

func (c *Client) GetParameter(ctx context.Context, path string) (float64, error) {
	var value float64
	if err := c.invokeDecode(ctx, MethodGetParameter, map[string]any{"path": path}, &value); err != nil {
		return 0, err
	}
	return value, nil
}

func (c *Client) SetLayerOpacity(ctx context.Context, timelineId, layerId string, opacity float64) error {
	return c.call(ctx, MethodSetLayerOpacity, map[string]any{"timelineId": timelineId, "layerId": layerId, "opacity": opacity})
}

func (c *Client) SetLayerPosition(ctx context.Context, timelineId, layerId string, x, y, z float64) error {
	return c.call(ctx, MethodSetLayerPosition, map[string]any{"timelineId": timelineId, "layerId": layerId, "x": x, "y": y, "z": z})
}

func (c *Client) SetLayerScale(ctx context.Context, timelineId, layerId string, x, y float64) error {
	return c.call(ctx, MethodSetLayerScale, map[string]any{"timelineId": timelineId, "layerId": layerId, "x": x, "y": y})
}

func (c *Client) SetLayerRotation(ctx context.Context, timelineId, layerId string, x, y, z float64) error {
	return c.call(ctx, MethodSetLayerRotation, map[string]any{"timelineId": timelineId, "layerId": layerId, "x": x, "y": y, "z": z})
}

func (c *Client) GetTimelines(ctx context.Context) ([]Timeline, error) {
	var timelines []Timeline
	if err := c.invokeDecode(ctx, MethodGetTimelines, nil, &timelines); err != nil {
		return nil, err
	}
	return timelines, nil
}

// invokeDecode decodes loosely typed results; numbers sent as strings and
// similar variations are accepted.
func (c *Client) invokeDecode(ctx context.Context, method string, params any, out any) error {
	raw, err := c.Invoke(ctx, method, params)
	if err != nil {
		return err
	}
	var generic any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("result of %s: %w", method, err)
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(generic); err != nil {
		return fmt.Errorf("result of %s: %w", method, err)
	}
	return nil
}
