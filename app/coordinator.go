// Package app wires the remote client, the bridge server and the value
// engine together.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/pixtouch/client"
	"github.com/mbocsi/pixtouch/config"
	"github.com/mbocsi/pixtouch/proto"
	"github.com/mbocsi/pixtouch/server"
	"github.com/mbocsi/pixtouch/surface"
)

const (
	// DisplayColor is shown on the surface for bound encoders.
	DisplayColor = "#00FF00"

	syncTimeout     = 5 * time.Second
	discoverTimeout = 5 * time.Second
)

type Options struct {
	Config     *config.Config       // defaults when nil
	ConfigPath string               // enables persistence and hot reload
	Client     *client.Client       // built from Config when nil
	Bridge     *server.BridgeServer // built when nil
}

type ValueEvent struct {
	surface.SlotInfo
	Delta    int  `json:"delta,omitempty"`
	FineMode bool `json:"fine_mode,omitempty"`
}

type Status struct {
	Connection string                `json:"connection"`
	Host       string                `json:"host"`
	Port       int                   `json:"port"`
	Transport  string                `json:"transport"`
	Client     client.Stats          `json:"client"`
	Bridge     server.BridgeMetadata `json:"bridge"`
	Encoders   int                   `json:"encoders"`
	Faders     int                   `json:"faders"`
}

type change struct {
	surface.ChangeEvent
	slot surface.SlotInfo
}

type Coordinator struct {
	client *client.Client
	bridge *server.BridgeServer
	hub    *Hub

	cfgMu      sync.Mutex
	cfg        *config.Config
	configPath string
	watcher    *config.Watcher

	// mu serializes every engine call. dispatchMu is taken before mu is
	// released so remote updates leave in the order values were computed.
	mu         sync.Mutex
	dispatchMu sync.Mutex
	engine     *surface.Engine
	pending    []surface.ChangeEvent
}

// NewClient builds a remote client for the configured transport.
func NewClient(cfg config.ConnectionConfig) *client.Client {
	opts := client.DefaultOptions()
	if cfg.Transport == config.TransportWebSocket {
		path := cfg.Path
		opts.NewTransport = func() client.Transport {
			t := client.NewWebSocketTransport()
			if path != "" {
				t.Path = path
			}
			return t
		}
	}
	return client.NewClient(opts)
}

func New(opts Options) *Coordinator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Client == nil {
		opts.Client = NewClient(cfg.Connection)
	}
	if opts.Bridge == nil {
		opts.Bridge = server.NewBridgeServer()
	}

	c := &Coordinator{
		client:     opts.Client,
		bridge:     opts.Bridge,
		hub:        NewHub(),
		cfg:        cfg,
		configPath: opts.ConfigPath,
		engine:     surface.NewEngine(cfg.Surface.Encoders, cfg.Surface.Faders),
	}

	c.engine.OnChange(func(ev surface.ChangeEvent) {
		c.pending = append(c.pending, ev) // mu is held by every engine caller
	})
	c.client.OnStateChange(c.handleStateChange)
	c.bridge.OnEncoderInput(c.handleEncoderInput)
	c.bridge.OnButtonInput(c.handleButtonInput)
	c.bridge.OnConnect(c.handlePeerConnect)
	c.bridge.OnDisconnect(c.handlePeerDisconnect)

	c.mu.Lock()
	c.applyMappingsLocked(cfg)
	c.mu.Unlock()
	return c
}

func (c *Coordinator) Events() *Hub {
	return c.hub
}

func (c *Coordinator) Config() *config.Config {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg
}

// Start launches the bridge, the config watcher and, if configured, the
// initial connection attempt. It does not block.
func (c *Coordinator) Start(ctx context.Context) error {
	cfg := c.Config()
	if cfg.Bridge.Enabled {
		if err := c.bridge.Start(cfg.Bridge.Port); err != nil {
			return fmt.Errorf("start bridge: %w", err)
		}
	}
	if c.configPath != "" {
		w, err := config.Watch(c.configPath, c.ApplyConfig)
		if err != nil {
			slog.Warn("Configuration hot reload disabled", "path", c.configPath, "error", err)
		} else {
			c.watcher = w
		}
	}
	if cfg.Connection.AutoConnect {
		go func() {
			if err := c.Connect(ctx); err != nil {
				slog.Warn("Auto-connect failed", "error", err)
			}
		}()
	}
	return nil
}

func (c *Coordinator) Stop() {
	if c.watcher != nil {
		if err := c.watcher.Close(); err != nil {
			slog.Debug("Error closing configuration watcher", "error", err)
		}
		c.watcher = nil
	}
	c.client.Disconnect()
	c.bridge.Stop()
}

// Run starts the coordinator and blocks until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	slog.Info("Shutting down bridge and remote connection")
	c.Stop()
	return nil
}

// Connect dials the configured media server, resolving it through mDNS
// when the host is "auto".
func (c *Coordinator) Connect(ctx context.Context) error {
	conn := c.Config().Connection
	host, port := conn.Host, conn.Port
	if strings.EqualFold(host, config.HostAuto) {
		svc, err := client.Discover(ctx, conn.Service, discoverTimeout)
		if err != nil {
			return serviceError("discover media server", fmt.Errorf("%w: %w", client.ErrConnection, err))
		}
		host, port = svc.Host, svc.Port
	}
	return serviceError("connect to "+host, c.client.Connect(ctx, host, port))
}

func (c *Coordinator) Disconnect() {
	c.client.Disconnect()
}

func (c *Coordinator) Status() Status {
	cfg := c.Config()
	c.mu.Lock()
	encoders, faders := c.engine.Count(surface.Encoders), c.engine.Count(surface.Faders)
	c.mu.Unlock()
	return Status{
		Connection: c.client.State().String(),
		Host:       cfg.Connection.Host,
		Port:       cfg.Connection.Port,
		Transport:  cfg.Connection.Transport,
		Client:     c.client.Stats(),
		Bridge:     c.bridge.Meta(),
		Encoders:   encoders,
		Faders:     faders,
	}
}

func (c *Coordinator) Slots(group string) ([]surface.SlotInfo, error) {
	g, err := surface.ParseGroup(group)
	if err != nil {
		return nil, serviceError("list slots", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Slots(g), nil
}

func (c *Coordinator) Slot(group string, index int) (surface.SlotInfo, error) {
	g, err := surface.ParseGroup(group)
	if err != nil {
		return surface.SlotInfo{}, serviceError("get slot", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	info, err := c.engine.Slot(g, index)
	return info, serviceError("get slot", err)
}

// BindSlot assigns m (or nothing, when nil) to a slot and persists it.
func (c *Coordinator) BindSlot(group string, index int, m *proto.ControlMapping) (surface.SlotInfo, error) {
	g, err := surface.ParseGroup(group)
	if err != nil {
		return surface.SlotInfo{}, serviceError("bind slot", err)
	}
	if m != nil {
		cp := *m
		if cp.Id == "" {
			cp.Id = uuid.NewString()
		}
		m = &cp
	}

	c.mu.Lock()
	err = c.engine.Bind(g, index, cloneMapping(m))
	info, _ := c.engine.Slot(g, index)
	c.mu.Unlock()
	if err != nil {
		return surface.SlotInfo{}, serviceError("bind slot", err)
	}

	c.storeMapping(g, index, m)
	if g == surface.Encoders {
		c.showEncoder(info)
	}
	c.hub.Publish(EventValue, ValueEvent{SlotInfo: info})
	return info, nil
}

func (c *Coordinator) NudgeEncoder(index, delta int, fineMode bool) (surface.SlotInfo, error) {
	return c.mutate(surface.Encoders, index, func() {
		c.engine.ApplyEncoderDelta(index, delta, fineMode)
	})
}

func (c *Coordinator) SetFader(index int, value float64) (surface.SlotInfo, error) {
	return c.mutate(surface.Faders, index, func() {
		c.engine.ApplyFaderSet(index, value)
	})
}

func (c *Coordinator) ResetSlot(group string, index int) (surface.SlotInfo, error) {
	g, err := surface.ParseGroup(group)
	if err != nil {
		return surface.SlotInfo{}, serviceError("reset slot", err)
	}
	return c.mutate(g, index, func() {
		c.engine.Reset(g, index)
	})
}

func (c *Coordinator) mutate(g surface.Group, index int, fn func()) (surface.SlotInfo, error) {
	c.mu.Lock()
	if _, err := c.engine.Slot(g, index); err != nil {
		c.mu.Unlock()
		return surface.SlotInfo{}, serviceError("update slot", err)
	}
	fn()
	info, _ := c.engine.Slot(g, index)
	changes := c.drainLocked()
	c.dispatchMu.Lock()
	c.mu.Unlock()

	defer c.dispatchMu.Unlock()
	c.dispatch(changes)
	return info, nil
}

func (c *Coordinator) drainLocked() []change {
	if len(c.pending) == 0 {
		return nil
	}
	out := make([]change, 0, len(c.pending))
	for _, ev := range c.pending {
		info, _ := c.engine.Slot(ev.Group, ev.Index)
		out = append(out, change{ChangeEvent: ev, slot: info})
	}
	c.pending = c.pending[:0]
	return out
}

func (c *Coordinator) dispatch(changes []change) {
	for _, ch := range changes {
		c.hub.Publish(EventValue, ValueEvent{SlotInfo: ch.slot, Delta: ch.Delta, FineMode: ch.FineMode})
		if ch.Group == surface.Encoders {
			c.showEncoder(ch.slot)
		}
		c.syncRemote(ch.ChangeEvent)
	}
}

// syncRemote pushes a value to the media server. Failures are logged; the
// local value stays authoritative.
func (c *Coordinator) syncRemote(ev surface.ChangeEvent) {
	if ev.Mapping == nil || !ev.Mapping.SyncEnabled || ev.ParameterPath == "" {
		return
	}
	if c.client.State() != client.Connected {
		slog.Debug("Skipping remote update while not connected", "path", ev.ParameterPath, "value", ev.Value)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	if err := c.client.SetParameter(ctx, ev.ParameterPath, ev.Value); err != nil {
		slog.Warn("Failed to update remote parameter", "path", ev.ParameterPath, "value", ev.Value, "error", err)
	}
}

// Invoke forwards an arbitrary remote call. params must be JSON or empty.
func (c *Coordinator) Invoke(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if strings.TrimSpace(method) == "" {
		return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "method is required"}
	}
	var p any
	if len(params) > 0 {
		if !json.Valid(params) {
			return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "params is not valid JSON"}
		}
		p = params
	}
	res, err := c.client.Invoke(ctx, method, p)
	if errors.Is(err, proto.ErrMalformed) {
		// params were validated above, so the remote sent something unreadable
		return nil, ServiceError{Code: ErrCodeRemote, Message: "invoke " + method, Cause: err}
	}
	if err != nil {
		return nil, serviceError("invoke "+method, err)
	}
	return res, nil
}

// ApplyConfig swaps in a reloaded configuration. Mappings that changed are
// rebound; connection, bridge and surface size need a restart.
func (c *Coordinator) ApplyConfig(cfg *config.Config) {
	c.cfgMu.Lock()
	old := c.cfg
	c.cfg = cfg
	c.cfgMu.Unlock()

	if old.Connection != cfg.Connection || old.Bridge != cfg.Bridge || old.Surface != cfg.Surface {
		slog.Info("Connection, bridge and surface settings take effect after restart")
	}

	c.mu.Lock()
	rebound := c.applyMappingsLocked(cfg)
	infos := make([]surface.SlotInfo, 0, len(rebound))
	for _, idx := range rebound {
		info, _ := c.engine.Slot(surface.Encoders, idx)
		infos = append(infos, info)
	}
	c.mu.Unlock()

	for _, info := range infos {
		c.showEncoder(info)
	}
	c.showButtons()
}

// applyMappingsLocked binds every slot whose configured mapping differs from
// the current one and returns the encoder indexes that changed.
func (c *Coordinator) applyMappingsLocked(cfg *config.Config) []int {
	var rebound []int
	for _, gm := range []struct {
		group    surface.Group
		mappings []*proto.ControlMapping
	}{
		{surface.Encoders, cfg.EncoderMappings},
		{surface.Faders, cfg.FaderMappings},
	} {
		if extra := len(gm.mappings) - c.engine.Count(gm.group); extra > 0 {
			slog.Warn("Ignoring mappings beyond slot count", "group", gm.group, "ignored", extra)
		}
		for i := 0; i < c.engine.Count(gm.group); i++ {
			var m *proto.ControlMapping
			if i < len(gm.mappings) {
				m = gm.mappings[i]
			}
			current, _ := c.engine.Slot(gm.group, i)
			if reflect.DeepEqual(current.Mapping, m) {
				continue
			}
			if err := c.engine.Bind(gm.group, i, cloneMapping(m)); err != nil {
				slog.Warn("Skipping invalid mapping", "group", gm.group, "index", i, "error", err)
				continue
			}
			if gm.group == surface.Encoders {
				rebound = append(rebound, i)
			}
		}
	}
	return rebound
}

func (c *Coordinator) storeMapping(g surface.Group, index int, m *proto.ControlMapping) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()

	list := &c.cfg.EncoderMappings
	if g == surface.Faders {
		list = &c.cfg.FaderMappings
	}
	for len(*list) <= index {
		*list = append(*list, nil)
	}
	(*list)[index] = cloneMapping(m)
	for n := len(*list); n > 0 && (*list)[n-1] == nil; n-- {
		*list = (*list)[:n-1]
	}

	if c.configPath == "" {
		return
	}
	if err := c.cfg.Save(c.configPath); err != nil {
		slog.Warn("Failed to save configuration", "path", c.configPath, "error", err)
	}
}

func (c *Coordinator) showEncoder(info surface.SlotInfo) {
	color := server.DefaultColor
	if info.Mapping != nil {
		color = DisplayColor
	}
	c.bridge.UpdateEncoderDisplay(info.Index, info.Label, info.FormattedValue, color)
}

func (c *Coordinator) showButtons() {
	buttons := c.Config().Buttons
	ids := make([]string, 0, len(buttons))
	for id := range buttons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		label := buttons[id].Label
		if label == "" {
			label = id
		}
		c.bridge.UpdateButtonDisplay(id, label, "")
	}
}

func (c *Coordinator) handleStateChange(ch client.StateChange) {
	c.hub.Publish(EventState, StateEvent{
		Previous: ch.Previous.String(),
		Current:  ch.Current.String(),
		Error:    ch.ErrorMessage(),
	})
}

func (c *Coordinator) handleEncoderInput(in proto.EncoderInput) {
	if _, err := c.NudgeEncoder(in.EncoderId, in.Delta, in.FineMode); err != nil {
		slog.Debug("Ignoring encoder input", "encoder_id", in.EncoderId, "error", err)
	}
}

func (c *Coordinator) handleButtonInput(in proto.ButtonInput) {
	c.hub.Publish(EventButton, ButtonEvent{ButtonId: in.ButtonId, Pressed: in.Pressed})
	if !in.Pressed {
		return
	}

	action, ok := c.Config().Buttons[in.ButtonId]
	if !ok {
		slog.Debug("No action bound to button", "button_id", in.ButtonId)
		return
	}
	if c.client.State() != client.Connected {
		slog.Info("Button pressed while not connected", "button_id", in.ButtonId, "method", action.Method)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	if _, err := c.Invoke(ctx, action.Method, action.Params); err != nil {
		slog.Warn("Button action failed", "button_id", in.ButtonId, "method", action.Method, "error", err)
		return
	}
	slog.Info("Button action invoked", "button_id", in.ButtonId, "method", action.Method)
}

func (c *Coordinator) handlePeerConnect(peer *server.Peer) {
	c.hub.Publish(EventBridge, BridgeEvent{Connected: true, PeerID: peer.Id, PeerAddr: peer.Addr()})

	c.mu.Lock()
	encoders := c.engine.Slots(surface.Encoders)
	c.mu.Unlock()
	for _, info := range encoders {
		c.showEncoder(info)
	}
	c.showButtons()
}

func (c *Coordinator) handlePeerDisconnect(peer *server.Peer) {
	c.hub.Publish(EventBridge, BridgeEvent{Connected: false, PeerID: peer.Id})
}

func cloneMapping(m *proto.ControlMapping) *proto.ControlMapping {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}
