// Package mcp exposes the bridge to MCP clients over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbocsi/pixtouch/app"
)

type Server struct {
	coord *app.Coordinator
	srv   *server.MCPServer
}

func NewServer(coord *app.Coordinator, version string) *Server {
	s := &Server{
		coord: coord,
		srv:   server.NewMCPServer("PixTouch", version),
	}
	s.registerTools()
	return s
}

// Run serves on stdin/stdout until the input closes.
func (s *Server) Run() error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.srv)
}

func (s *Server) registerTools() {
	s.srv.AddTool(mcp.NewTool("connection_status",
		mcp.WithDescription("Get the media server connection state, bridge peer and drop counters"),
	), s.handleConnectionStatus)

	s.srv.AddTool(mcp.NewTool("list_slots",
		mcp.WithDescription("List the encoder or fader slots with their mappings and current values"),
		mcp.WithString("group",
			mcp.Required(),
			mcp.Description("Slot group"),
			mcp.Enum("encoder", "fader"),
		),
	), s.handleListSlots)

	s.srv.AddTool(mcp.NewTool("nudge_encoder",
		mcp.WithDescription("Turn an encoder by a number of steps, as if the knob was rotated"),
		mcp.WithNumber("index",
			mcp.Required(),
			mcp.Description("Encoder index, starting at 0"),
		),
		mcp.WithNumber("delta",
			mcp.Required(),
			mcp.Description("Signed number of steps"),
		),
		mcp.WithBoolean("fine_mode",
			mcp.Description("Use the fine step instead of the coarse step"),
		),
	), s.handleNudgeEncoder)

	s.srv.AddTool(mcp.NewTool("set_fader",
		mcp.WithDescription("Move a fader to an absolute value; the value is clamped to the mapping range"),
		mcp.WithNumber("index",
			mcp.Required(),
			mcp.Description("Fader index, starting at 0"),
		),
		mcp.WithNumber("value",
			mcp.Required(),
			mcp.Description("Target value"),
		),
	), s.handleSetFader)

	s.srv.AddTool(mcp.NewTool("invoke_method",
		mcp.WithDescription("Call a media server API method, e.g. Pixera.Timelines.StartTimeline"),
		mcp.WithString("method",
			mcp.Required(),
			mcp.Description("Fully qualified remote method name"),
		),
		mcp.WithObject("params",
			mcp.Description("Method parameters"),
		),
	), s.handleInvokeMethod)
}

func (s *Server) handleConnectionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.coord.Status())
}

func (s *Server) handleListSlots(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	group, err := request.RequireString("group")
	if err != nil {
		return mcp.NewToolResultError("group is required and must be a string"), nil
	}
	slots, err := s.coord.Slots(group)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(slots)
}

func (s *Server) handleNudgeEncoder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := request.RequireFloat("index")
	if err != nil {
		return mcp.NewToolResultError("index is required and must be a number"), nil
	}
	delta, err := request.RequireFloat("delta")
	if err != nil {
		return mcp.NewToolResultError("delta is required and must be a number"), nil
	}
	slot, err := s.coord.NudgeEncoder(int(index), int(delta), request.GetBool("fine_mode", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(slot)
}

func (s *Server) handleSetFader(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := request.RequireFloat("index")
	if err != nil {
		return mcp.NewToolResultError("index is required and must be a number"), nil
	}
	value, err := request.RequireFloat("value")
	if err != nil {
		return mcp.NewToolResultError("value is required and must be a number"), nil
	}
	slot, err := s.coord.SetFader(int(index), value)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(slot)
}

func (s *Server) handleInvokeMethod(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	method, err := request.RequireString("method")
	if err != nil {
		return mcp.NewToolResultError("method is required and must be a string"), nil
	}

	var params json.RawMessage
	if args, ok := request.GetRawArguments().(map[string]any); ok && args["params"] != nil {
		params, err = json.Marshal(args["params"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid params: %v", err)), nil
		}
	}

	result, err := s.coord.Invoke(ctx, method, params)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return mcp.NewToolResultText(string(result)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
