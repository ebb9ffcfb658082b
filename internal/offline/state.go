package offline

// State is the lifecycle position of a Worker. A worker moves strictly
// forward: Parsed, Installing, Installed, Activating, Active. A failed
// install ends in Redundant.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Intercepting reports whether fetches are answered by the cache.
func (s State) Intercepting() bool {
	return s == StateActive
}
