package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/mbocsi/pixtouch/proto"
)

func startBridge(t *testing.T) *BridgeServer {
	t.Helper()
	b := NewBridgeServer()
	if err := b.Start(0); err != nil {
		t.Fatalf("Failed to start bridge: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func dialBridge(t *testing.T, b *BridgeServer) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", b.Addr())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBridgeServer_StartAndStop(t *testing.T) {
	b := NewBridgeServer()

	if err := b.Start(0); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if !strings.HasPrefix(b.Addr(), "127.0.0.1:") {
		t.Errorf("Expected loopback address, got %s", b.Addr())
	}
	if !b.Meta().Running {
		t.Error("Expected bridge to report running")
	}

	b.Stop()
	b.Stop()

	if b.Addr() != "" {
		t.Errorf("Expected empty address after stop, got %s", b.Addr())
	}
	if b.Meta().Running {
		t.Error("Expected bridge to report stopped")
	}
}

func TestBridgeServer_AlreadyRunning(t *testing.T) {
	b := startBridge(t)

	err := b.Start(0)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestBridgeServer_RestartAfterStop(t *testing.T) {
	b := NewBridgeServer()
	if err := b.Start(0); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	b.Stop()

	if err := b.Start(0); err != nil {
		t.Fatalf("Failed to restart: %v", err)
	}
	b.Stop()
}

func TestBridgeServer_EncoderInput(t *testing.T) {
	b := NewBridgeServer()
	inputs := make(chan proto.EncoderInput, 4)
	b.OnEncoderInput(func(in proto.EncoderInput) { inputs <- in })
	if err := b.Start(0); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	defer b.Stop()

	conn := dialBridge(t, b)
	conn.Write([]byte(`{"type":"encoder_input","encoder_id":3,"delta":-2}` + "\n"))

	select {
	case in := <-inputs:
		want := proto.EncoderInput{EncoderId: 3, Delta: -2, FineMode: false}
		if in != want {
			t.Errorf("Expected %+v, got %+v", want, in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Encoder input was not delivered")
	}
}

func TestBridgeServer_MalformedLinesDropped(t *testing.T) {
	b := NewBridgeServer()
	inputs := make(chan proto.ButtonInput, 4)
	b.OnButtonInput(func(in proto.ButtonInput) { inputs <- in })
	if err := b.Start(0); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	defer b.Stop()

	conn := dialBridge(t, b)
	conn.Write([]byte("not json\n"))
	conn.Write([]byte(`{"type":"mystery"}` + "\n"))
	conn.Write([]byte(`{"type":"button_input","button_id":"play"}` + "\n"))
	conn.Write([]byte("\n"))
	conn.Write([]byte(`{"type":"button_input","button_id":"play","pressed":true}` + "\n"))

	select {
	case in := <-inputs:
		if in.ButtonId != "play" || !in.Pressed {
			t.Errorf("Unexpected button input %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Session did not survive malformed lines")
	}

	if got := b.Meta().DroppedMessages; got != 3 {
		t.Errorf("Expected 3 dropped messages, got %d", got)
	}
}

func TestBridgeServer_OverLongLineDropped(t *testing.T) {
	b := NewBridgeServer()
	inputs := make(chan proto.ButtonInput, 1)
	b.OnButtonInput(func(in proto.ButtonInput) { inputs <- in })
	if err := b.Start(0); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	defer b.Stop()

	conn := dialBridge(t, b)
	long := strings.Repeat("x", proto.MaxLineSize+10) + "\n"
	if _, err := conn.Write([]byte(long)); err != nil {
		t.Fatalf("Failed to write long line: %v", err)
	}
	conn.Write([]byte(`{"type":"button_input","button_id":"stop","pressed":true}` + "\n"))

	select {
	case in := <-inputs:
		if in.ButtonId != "stop" || !in.Pressed {
			t.Errorf("Unexpected button input %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Session did not survive an over-long line")
	}

	if !b.IsConnected() {
		t.Error("Expected peer to stay connected")
	}
	if got := b.Meta().DroppedMessages; got != 1 {
		t.Errorf("Expected 1 dropped message, got %d", got)
	}
}

func TestBridgeServer_ConnectDisconnect(t *testing.T) {
	b := NewBridgeServer()
	connected := make(chan *Peer, 1)
	disconnected := make(chan *Peer, 1)
	b.OnConnect(func(p *Peer) { connected <- p })
	b.OnDisconnect(func(p *Peer) { disconnected <- p })
	if err := b.Start(0); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	defer b.Stop()

	conn, err := net.Dial("tcp", b.Addr())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	var peer *Peer
	select {
	case peer = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect callback was not called")
	}
	if !b.IsConnected() {
		t.Error("Expected bridge to report a peer")
	}
	if b.Meta().PeerID != peer.Id {
		t.Errorf("Expected peer id %s in metadata, got %s", peer.Id, b.Meta().PeerID)
	}

	conn.Close()

	select {
	case p := <-disconnected:
		if p != peer {
			t.Error("Expected the same peer on disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect callback was not called")
	}
	waitFor(t, func() bool { return !b.IsConnected() })

	// The listener keeps accepting after a peer leaves.
	conn2 := dialBridge(t, b)
	_ = conn2
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("Second session was not accepted")
	}
}

func TestBridgeServer_RejectsSecondPeer(t *testing.T) {
	b := startBridge(t)

	conn1 := dialBridge(t, b)
	_ = conn1
	waitFor(t, b.IsConnected)

	conn2 := dialBridge(t, b)
	conn2.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, err := bufio.NewReader(conn2).ReadByte()
	if err == nil {
		t.Error("Expected second connection to be closed")
	}

	waitFor(t, func() bool { return b.Meta().RejectedPeers == 1 })
	if !b.IsConnected() {
		t.Error("Expected first peer to keep its session")
	}
}

func TestBridgeServer_UpdateEncoderDisplay(t *testing.T) {
	b := startBridge(t)
	conn := dialBridge(t, b)
	waitFor(t, b.IsConnected)

	b.UpdateEncoderDisplay(0, "Opacity", "50.00", "")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("Failed to read update: %v", err)
	}

	var msg proto.BridgeMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		t.Fatalf("Failed to parse update: %v", err)
	}
	if msg.Type != proto.TypeEncoderUpdate {
		t.Errorf("Expected type %s, got %s", proto.TypeEncoderUpdate, msg.Type)
	}
	if msg.EncoderId == nil || *msg.EncoderId != 0 {
		t.Errorf("Expected encoder_id 0, got %v", msg.EncoderId)
	}
	if msg.Color == nil || *msg.Color != DefaultColor {
		t.Errorf("Expected default color, got %v", msg.Color)
	}
	if msg.Value == nil || *msg.Value != "50.00" {
		t.Errorf("Expected value 50.00, got %v", msg.Value)
	}
}

func TestBridgeServer_UpdateButtonDisplay(t *testing.T) {
	b := startBridge(t)
	conn := dialBridge(t, b)
	waitFor(t, b.IsConnected)

	b.UpdateButtonDisplay("play", "Play", "#00FF00")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("Failed to read update: %v", err)
	}
	want := `{"type":"button_update","label":"Play","color":"#00FF00","button_id":"play"}` + "\n"
	if string(line) != want {
		t.Errorf("Expected %s, got %s", want, line)
	}
}

func TestBridgeServer_UpdateWithoutPeer(t *testing.T) {
	b := NewBridgeServer()

	// No listener and no peer: both calls are no-ops.
	b.UpdateEncoderDisplay(1, "Scale", "1.00", "#FF0000")
	b.UpdateButtonDisplay("stop", "Stop", "")
}

func TestBridgeServer_StopClosesPeer(t *testing.T) {
	b := NewBridgeServer()
	if err := b.Start(0); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	conn := dialBridge(t, b)
	waitFor(t, b.IsConnected)

	b.Stop()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := bufio.NewReader(conn).ReadByte(); err == nil {
		t.Error("Expected peer connection to be closed on stop")
	}
	if b.IsConnected() {
		t.Error("Expected no peer after stop")
	}
}
