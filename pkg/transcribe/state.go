package transcribe

// State is the lifecycle state of a [Client]'s connection.
type State int32

const (
	// StateIdle is the initial state before the first Connect.
	StateIdle State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means the transport is open and authenticated messages flow.
	StateOpen
	// StateClosing means the client asked the transport to close.
	StateClosing
	// StateClosed means the transport closed and no reconnect is pending.
	StateClosed
	// StateReconnecting means a reconnect timer is pending.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Public status strings reported by [Client.Status].
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusClosing      = "closing"
	StatusUnknown      = "unknown"
)

// PublicStatus maps s onto the coarse status vocabulary exposed to UIs.
func (s State) PublicStatus() string {
	switch s {
	case StateIdle, StateClosed, StateReconnecting:
		return StatusDisconnected
	case StateConnecting:
		return StatusConnecting
	case StateOpen:
		return StatusConnected
	case StateClosing:
		return StatusClosing
	default:
		return StatusUnknown
	}
}
