package connection

// State is a connection lifecycle phase. Transitions only move forward:
// BANNER to LOGIN to PLAY, and any state to CLOSED.
type State int32

const (
	StateBanner State = iota
	StateLogin
	StatePlay
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBanner:
		return "BANNER"
	case StateLogin:
		return "LOGIN"
	case StatePlay:
		return "PLAY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
