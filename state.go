package haikuplus

// State is the session state of a Communicator.
type State int

const (
	SignedOut State = iota
	SigningIn
	SignedIn
)

func (s State) String() string {
	switch s {
	case SignedOut:
		return "signed-out"
	case SigningIn:
		return "signing-in"
	case SignedIn:
		return "signed-in"
	}
	return "unknown"
}
