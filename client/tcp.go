package client

import (
	"context"
	"net"
	"time"

	"github.com/mbocsi/pixtouch/proto"
)

const writeWait = 10 * time.Second

type TCPTransport struct {
	conn   net.Conn
	reader *proto.LineReader
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

func (t *TCPTransport) Connect(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	t.conn = conn
	t.reader = proto.NewLineReader(conn, proto.MaxLineSize)
	return nil
}

func (t *TCPTransport) WriteLine(line []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err := t.conn.Write(line)
	return err
}

// ReadLine returns proto.ErrLineTooLong for an over-long line and can be
// called again afterwards.
func (t *TCPTransport) ReadLine() ([]byte, error) {
	return t.reader.ReadLine()
}

func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
