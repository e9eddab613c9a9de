package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/pixtouch/app"
)

const (
	eventBuffer = 64
	writeWait   = 5 * time.Second
	pingPeriod  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// The API binds to loopback; any local page may watch the stream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleEvents streams hub events as JSON text frames until the client goes
// away or the server shuts down. Inbound frames are discarded.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	events := s.coord.Events().Subscribe(eventBuffer)
	defer s.coord.Events().Unsubscribe(events)
	slog.Info("Event stream opened", "addr", r.RemoteAddr)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Warn("Event stream error", "addr", r.RemoteAddr, "error", err)
				}
				return
			}
		}
	}()

	// Initial snapshot so clients need not poll /api/status first.
	if err := s.write(conn, app.Event{Type: "status", Time: time.Now(), Data: s.coord.Status()}); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev := <-events:
			if err := s.write(conn, ev); err != nil {
				slog.Debug("Event stream write failed", "addr", r.RemoteAddr, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			slog.Info("Event stream closed", "addr", r.RemoteAddr)
			return
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, ev app.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
