package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport carries one JSON-RPC message per text frame for servers
// that expose their API over WebSocket instead of raw TCP.
type WebSocketTransport struct {
	conn *websocket.Conn
	Path string
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{Path: "/"}
}

func (t *WebSocketTransport) Connect(ctx context.Context, addr string) error {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		// Bare host:port
		u = &url.URL{Host: addr}
	}
	switch u.Scheme {
	case "", "tcp", "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = t.Path
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	t.conn = conn
	return nil
}

func (t *WebSocketTransport) WriteLine(line []byte) error {
	if t.conn == nil {
		return fmt.Errorf("transport is not connected")
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(line, "\r\n"))
}

func (t *WebSocketTransport) ReadLine() ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("transport is not connected")
	}
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			return nil, fmt.Errorf("WebSocket connection error: %w", err)
		}
		return nil, io.EOF
	}
	return data, nil
}

func (t *WebSocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err != nil {
		slog.Debug("Failed to send close message", "error", err)
	}
	return t.conn.Close()
}
