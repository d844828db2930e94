package peer

// State is the lifecycle state of a Peer.
type State int32

const (
	StateDisconnected State = iota
	StateStreamConnecting
	StateStreamConnected
	StateHandshakeSent
	StateActive
	StateTerminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateStreamConnecting:
		return "STREAM_CONNECTING"
	case StateStreamConnected:
		return "STREAM_CONNECTED"
	case StateHandshakeSent:
		return "HANDSHAKE_SENT"
	case StateActive:
		return "ACTIVE"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
