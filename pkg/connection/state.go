package connection

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a token fetch or dial is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateStopped indicates the owner closed the session for good.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
