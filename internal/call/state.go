package call

// State is the lifecycle state of a call session.
type State int

const (
	// StateCalling is the initial state of an outgoing session, from
	// construction until the remote side is heard from.
	StateCalling State = iota
	// StateRinging is the initial state of an incoming session, while the
	// handshake completes.
	StateRinging
	// StateConnected means media is (or is about to be) flowing.
	StateConnected
	// StateEnded is terminal. A new call requires a new session.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}
