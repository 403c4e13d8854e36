package websocket

import "time"

// Conn is the registry's view of one duplex channel to a client process.
// Send must not block; it reports false when the frame could not be queued.
// Close must be safe to call more than once.
type Conn interface {
	Send(payload []byte) bool
	Ping() error
	Close() error
}

type ConnState int

const (
	StateOpen ConnState = iota
	StateAwaitingPong
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateAwaitingPong:
		return "AwaitingPong"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnInfo is a read-only copy of a registered connection's state.
type ConnInfo struct {
	ID          string
	UserID      string
	DisplayName string
	State       ConnState
	LastPongAt  time.Time
}
