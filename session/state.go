package session

// State is where a Session is in the SMTP conversation. Sessions only move
// forward; Closed and Failed are terminal.
type State int

const (
	Unconnected State = iota
	Connected
	Authenticated
	InTransaction
	DataPhase
	Closed
	Failed
)

var stateNames = map[State]string{
	Unconnected:   "unconnected",
	Connected:     "connected",
	Authenticated: "authenticated",
	InTransaction: "in-transaction",
	DataPhase:     "data",
	Closed:        "closed",
	Failed:        "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// open reports whether the stream is usable in state s.
func (s State) open() bool {
	return s != Unconnected && s != Closed && s != Failed
}
