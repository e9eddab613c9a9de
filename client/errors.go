package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConnection wraps dial failures (refused, timeout, DNS).
	ErrConnection = errors.New("connection failed")
	// ErrNotConnected is returned by Invoke outside the Connected state.
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidState is returned by Connect while a connection is active or being established.
	ErrInvalidState = errors.New("invalid connection state")
	// ErrEmptyResponse is returned when the peer closes before answering a call.
	ErrEmptyResponse = errors.New("empty response")
)

// RemoteError is a structured error returned by the remote server.
type RemoteError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}
