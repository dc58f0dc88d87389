package session

// State is the lifecycle state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateInitializing
	StateProposalPending
	StateSettled
	StateRequestPending
	StateRequestActive
	StateRequestComplete
	StateRequestFailed
	StateError
)

var stateNames = [...]string{
	StateDisconnected:    "disconnected",
	StateInitializing:    "initializing",
	StateProposalPending: "proposal_pending",
	StateSettled:         "settled",
	StateRequestPending:  "request_pending",
	StateRequestActive:   "request_active",
	StateRequestComplete: "request_complete",
	StateRequestFailed:   "request_failed",
	StateError:           "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// Settled reports whether a session with the peer exists in state s.
func (s State) Settled() bool {
	return s >= StateSettled && s <= StateRequestFailed
}

// Terminal reports whether s ends the session.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}
