package server

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/pixtouch/proto"
)

const writeWait = 5 * time.Second

// Peer is the connected control-surface plugin. Writes are serialized.
type Peer struct {
	Id   string
	conn net.Conn
	mu   sync.Mutex
}

func NewPeer(conn net.Conn) *Peer {
	return &Peer{Id: generatePeerId("surface"), conn: conn}
}

func (p *Peer) Addr() string {
	return p.conn.RemoteAddr().String()
}

func (p *Peer) Send(msg proto.BridgeMessage) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err = p.conn.Write(data)
	slog.Debug("Sent message", "to", p.Id, "type", msg.Type, "size", len(data))
	return err
}

func (p *Peer) Close() error {
	return p.conn.Close()
}
