package client

// ConnectionState is the lifecycle state of a Client.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateChange is delivered to observers after the new state is in place.
// Err is set for transitions into Error.
type StateChange struct {
	Previous ConnectionState
	Current  ConnectionState
	Err      error
}

func (c StateChange) ErrorMessage() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}
