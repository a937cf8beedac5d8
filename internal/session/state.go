package session

// State is the externally visible connection state of a device session.
type State int

const (
	// StateDisconnected means no link is open and no reconnect is pending.
	StateDisconnected State = iota

	// StateConnecting means link establishment or attribute probing is in
	// progress.
	StateConnecting

	// StateConnected means the link is live. Without the telemetry
	// characteristic the session never advances past this state.
	StateConnected

	// StateAvailable means the link is live and the telemetry notification
	// subscription is active.
	StateAvailable

	// StateReconnecting means an unexpected disconnect happened and an
	// automatic re-connect is scheduled or in flight.
	StateReconnecting

	// StateFailed means the configured attempt bound was exhausted; a new
	// manual Connect call is required.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAvailable:
		return "available"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
