package session

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	// StateAwaiting means both strategies are armed and nothing has arrived yet.
	StateAwaiting
	// StateResolving means a code or token is in hand and being turned into a credential.
	StateResolving
	StateResolved
	StateFailed
	StateTimedOut
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateFailed || s == StateTimedOut
}
