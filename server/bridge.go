// Package server implements the loopback bridge that the control-surface
// plugin connects to.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbocsi/pixtouch/proto"
)

const (
	DefaultPort  = 19790
	DefaultColor = "#FFFFFF"
)

var ErrAlreadyRunning = errors.New("bridge server is already running")

// BridgeServer accepts a single control-surface peer on the loopback
// interface. A connection arriving while a peer is being served is closed
// immediately; the existing peer keeps its session.
type BridgeServer struct {
	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	running  bool
	peer     *Peer
	wg       sync.WaitGroup

	onEncoderInput func(proto.EncoderInput)
	onButtonInput  func(proto.ButtonInput)
	onConnect      func(*Peer)
	onDisconnect   func(*Peer)

	dropped  atomic.Int64
	rejected atomic.Int64
}

func NewBridgeServer() *BridgeServer {
	return &BridgeServer{}
}

// Start binds 127.0.0.1:port and accepts in the background until Stop.
// Port 0 picks a free port; see Addr.
func (b *BridgeServer) Start(port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	slog.Info("Starting bridge server", "addr", l.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	b.listener = l
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.acceptLoop(ctx, l)
	return nil
}

// Stop closes the peer and the listener and waits for the loops to exit.
// It must not be called from a bridge callback.
func (b *BridgeServer) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	slog.Info("Shutting down bridge server", "addr", b.listener.Addr().String())
	b.running = false
	b.cancel()
	l := b.listener
	peer := b.peer
	b.listener = nil
	b.mu.Unlock()

	if err := l.Close(); err != nil {
		slog.Debug("Error closing bridge listener", "error", err)
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			slog.Debug("Error closing bridge peer", "id", peer.Id, "error", err)
		}
	}
	b.wg.Wait()
}

func (b *BridgeServer) acceptLoop(ctx context.Context, l net.Listener) {
	defer b.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return // listener closed by Stop
			}
			slog.Warn("Accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		b.mu.Lock()
		if b.peer != nil || !b.running {
			b.mu.Unlock()
			b.rejected.Add(1)
			slog.Warn("Control surface already connected, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn)
		b.peer = peer
		b.wg.Add(1)
		b.mu.Unlock()

		go b.handlePeer(ctx, peer)
	}
}

func (b *BridgeServer) handlePeer(ctx context.Context, peer *Peer) {
	defer b.wg.Done()
	addr := peer.Addr()
	slog.Info("Control surface connected", "addr", addr, "id", peer.Id)
	if b.onConnect != nil {
		b.onConnect(peer)
	}

	defer func() {
		b.mu.Lock()
		if b.peer == peer {
			b.peer = nil
		}
		b.mu.Unlock()

		if err := peer.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("Error closing bridge peer", "id", peer.Id, "error", err)
		}
		if b.onDisconnect != nil {
			b.onDisconnect(peer)
		}
		slog.Info("Control surface disconnected", "addr", addr, "id", peer.Id)
	}()

	reader := proto.NewLineReader(peer.conn, proto.MaxLineSize)
	for {
		line, err := reader.ReadLine()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, proto.ErrLineTooLong) {
			b.drop(peer, nil, err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Warn("Connection error", "addr", addr, "error", err)
			}
			return
		}
		b.handleLine(peer, line)
	}
}

func (b *BridgeServer) handleLine(peer *Peer, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	var msg proto.BridgeMessage
	if err := proto.Decode(line, &msg); err != nil {
		b.drop(peer, line, err)
		return
	}
	in, err := msg.Input()
	if err != nil {
		b.drop(peer, line, err)
		return
	}

	switch in := in.(type) {
	case proto.EncoderInput:
		slog.Debug("Encoder input", "encoder_id", in.EncoderId, "delta", in.Delta, "fine_mode", in.FineMode)
		if b.onEncoderInput != nil {
			b.onEncoderInput(in)
		}
	case proto.ButtonInput:
		slog.Debug("Button input", "button_id", in.ButtonId, "pressed", in.Pressed)
		if b.onButtonInput != nil {
			b.onButtonInput(in)
		}
	}
}

func (b *BridgeServer) drop(peer *Peer, line []byte, err error) {
	b.dropped.Add(1)
	slog.Warn("Dropping bridge message", "peer", peer.Id, "error", err.Error(), "data", string(line))
}

// UpdateEncoderDisplay sends an encoder_update to the peer, if any.
func (b *BridgeServer) UpdateEncoderDisplay(index int, label, value, color string) {
	if color == "" {
		color = DefaultColor
	}
	b.send(proto.NewEncoderUpdate(index, label, value, color))
}

// UpdateButtonDisplay sends a button_update to the peer, if any.
func (b *BridgeServer) UpdateButtonDisplay(buttonId, label, color string) {
	if color == "" {
		color = DefaultColor
	}
	b.send(proto.NewButtonUpdate(buttonId, label, color))
}

func (b *BridgeServer) send(msg proto.BridgeMessage) {
	b.mu.Lock()
	peer := b.peer
	b.mu.Unlock()
	if peer == nil {
		return
	}
	if err := peer.Send(msg); err != nil {
		slog.Warn("Failed to send bridge message", "peer", peer.Id, "type", msg.Type, "error", err)
	}
}

func (b *BridgeServer) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer != nil
}

// Addr returns the bound listener address, or "" when stopped.
func (b *BridgeServer) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Callbacks must be registered before Start.

func (b *BridgeServer) OnEncoderInput(fn func(proto.EncoderInput)) {
	b.onEncoderInput = fn
}

func (b *BridgeServer) OnButtonInput(fn func(proto.ButtonInput)) {
	b.onButtonInput = fn
}

func (b *BridgeServer) OnConnect(fn func(*Peer)) {
	b.onConnect = fn
}

func (b *BridgeServer) OnDisconnect(fn func(*Peer)) {
	b.onDisconnect = fn
}

func (b *BridgeServer) Meta() BridgeMetadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	meta := BridgeMetadata{
		ID:              "bridge",
		Protocol:        "tcp",
		Running:         b.running,
		DroppedMessages: b.dropped.Load(),
		RejectedPeers:   b.rejected.Load(),
	}
	if b.listener != nil {
		meta.Address = b.listener.Addr().String()
		meta.ID = "bridge-" + meta.Address
	}
	if b.peer != nil {
		meta.PeerID = b.peer.Id
		meta.PeerAddr = b.peer.Addr()
	}
	return meta
}
