package collab

// ConnectionState represents the current state of the transport connection.
type ConnectionState int

const (
	// StateDisconnected means there is no live transport. Publishes are dropped.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means the transport is up and subscriptions were sent.
	StateConnected

	// StateClosed means the room was torn down and will not reconnect.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // Optional error that caused the state change
}

// Reconnecting reports whether the event is the transient "reconnecting" indication.
func (e StateEvent) Reconnecting() bool {
	return e.NewState == StateDisconnected && e.OldState != StateClosed && e.Error != nil
}
