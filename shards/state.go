package shards

// State is a shard's position in its connection lifecycle.
type State int32

const (
	// StateDisconnected is the initial state before Start.
	StateDisconnected State = iota
	// StateConnecting means a transport dial is in flight.
	StateConnecting
	// StateAuthenticating means the connection is up and the auth
	// handshake is in progress.
	StateAuthenticating
	// StateJoining means membership is being re-issued for every
	// tracked channel.
	StateJoining
	// StateActive means the shard is fully connected and serving.
	StateActive
	// StateReconnectWait means the shard lost its connection and is
	// backing off before the next attempt.
	StateReconnectWait
	// StateStopped is terminal: reached by Stop or a fatal auth error.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateReconnectWait:
		return "reconnect-wait"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
