package client

import "context"

// Transport carries newline-delimited JSON lines to and from the remote
// server. A Transport is used for a single connection and discarded after
// Close. WriteLine is never called concurrently.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	WriteLine(line []byte) error
	ReadLine() ([]byte, error) // io.EOF once the peer has closed
	Close() error
}
