// Package config loads and persists the bridge configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mbocsi/pixtouch/proto"
)

const (
	DefaultHost        = "localhost"
	DefaultRemotePort  = 1400
	DefaultBridgePort  = 19790
	DefaultWebAddr     = "127.0.0.1:8080"
	DefaultEncoders    = 6
	DefaultFaders      = 8
	HostAuto           = "auto" // resolve the media server through mDNS
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

type ConnectionConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	AutoConnect bool   `json:"auto_connect"`
	Transport   string `json:"transport"`         // "tcp" or "websocket"
	Path        string `json:"path,omitempty"`    // websocket request path
	Service     string `json:"service,omitempty"` // mDNS service type when host is "auto"
}

type BridgeConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

type SurfaceConfig struct {
	Encoders int `json:"encoders"`
	Faders   int `json:"faders"`
}

// ButtonAction is the remote call made when a surface button is pressed.
type ButtonAction struct {
	Label  string          `json:"label,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Config mirrors config.json. Mapping lists are index-aligned with the
// surface slots; a null entry leaves the slot unbound.
type Config struct {
	Connection      ConnectionConfig        `json:"connection"`
	Surface         SurfaceConfig           `json:"surface"`
	EncoderMappings []*proto.ControlMapping `json:"encoder_mappings"`
	FaderMappings   []*proto.ControlMapping `json:"fader_mappings"`
	Bridge          BridgeConfig            `json:"bridge"`
	Buttons         map[string]ButtonAction `json:"buttons"`
	Web             WebConfig               `json:"web"`
}

func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Host:        DefaultHost,
			Port:        DefaultRemotePort,
			AutoConnect: true,
			Transport:   TransportTCP,
		},
		Surface: SurfaceConfig{
			Encoders: DefaultEncoders,
			Faders:   DefaultFaders,
		},
		EncoderMappings: []*proto.ControlMapping{},
		FaderMappings:   []*proto.ControlMapping{},
		Bridge: BridgeConfig{
			Enabled: true,
			Port:    DefaultBridgePort,
		},
		Buttons: map[string]ButtonAction{},
		Web: WebConfig{
			Enabled: true,
			Addr:    DefaultWebAddr,
		},
	}
}

// Path returns $XDG_CONFIG_HOME/pixtouch/config.json, falling back to the
// user config directory.
func Path() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "pixtouch", "config.json")
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "pixtouch", "config.json")
}

// Load reads the file at path over the defaults. A missing file yields the
// defaults; an unreadable or invalid file yields the defaults and a warning.
func Load(path string) *Config {
	cfg, err := Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Invalid configuration, using defaults", "path", path, "error", err)
		}
		return Default()
	}
	return cfg
}

// Read is Load without the fallback.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.Connection.Host == "" {
		c.Connection.Host = DefaultHost
	}
	if c.Connection.Port == 0 {
		c.Connection.Port = DefaultRemotePort
	}
	if c.Connection.Transport == "" {
		c.Connection.Transport = TransportTCP
	}
	if c.Surface.Encoders == 0 {
		c.Surface.Encoders = DefaultEncoders
	}
	if c.Surface.Faders == 0 {
		c.Surface.Faders = DefaultFaders
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = DefaultBridgePort
	}
	if c.Web.Addr == "" {
		c.Web.Addr = DefaultWebAddr
	}
	if c.EncoderMappings == nil {
		c.EncoderMappings = []*proto.ControlMapping{}
	}
	if c.FaderMappings == nil {
		c.FaderMappings = []*proto.ControlMapping{}
	}
	if c.Buttons == nil {
		c.Buttons = map[string]ButtonAction{}
	}
}

func (c *Config) Validate() error {
	if c.Connection.Port < 1 || c.Connection.Port > 65535 {
		return fmt.Errorf("connection.port %d out of range", c.Connection.Port)
	}
	switch c.Connection.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("connection.transport %q is not one of tcp, websocket", c.Connection.Transport)
	}
	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port %d out of range", c.Bridge.Port)
	}
	if c.Surface.Encoders < 0 || c.Surface.Faders < 0 {
		return errors.New("surface slot counts must not be negative")
	}
	if len(c.EncoderMappings) > c.Surface.Encoders {
		return fmt.Errorf("%d encoder mappings for %d encoders", len(c.EncoderMappings), c.Surface.Encoders)
	}
	if len(c.FaderMappings) > c.Surface.Faders {
		return fmt.Errorf("%d fader mappings for %d faders", len(c.FaderMappings), c.Surface.Faders)
	}
	for i, m := range c.EncoderMappings {
		if m == nil {
			continue
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("encoder_mappings[%d]: %w", i, err)
		}
	}
	for i, m := range c.FaderMappings {
		if m == nil {
			continue
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("fader_mappings[%d]: %w", i, err)
		}
	}
	for id, action := range c.Buttons {
		if strings.TrimSpace(action.Method) == "" {
			return fmt.Errorf("buttons.%s: method is required", id)
		}
		if len(action.Params) > 0 && !json.Valid(action.Params) {
			return fmt.Errorf("buttons.%s: params is not valid JSON", id)
		}
	}
	return nil
}

// RemoteAddr is host:port of the media server, unless the host is "auto".
func (c *Config) RemoteAddr() string {
	return net.JoinHostPort(c.Connection.Host, strconv.Itoa(c.Connection.Port))
}

// Save writes the configuration atomically: a temp file in the same
// directory renamed over path.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
