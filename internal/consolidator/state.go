package consolidator

// State is the session's position in the consolidation flow.
type State int

const (
	Idle State = iota
	Scanning
	Ready
	Closing
	Converting
	Settling
	Error
)

var stateNames = map[State]string{
	Idle:       "idle",
	Scanning:   "scanning",
	Ready:      "ready",
	Closing:    "closing",
	Converting: "converting",
	Settling:   "settling",
	Error:      "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Busy reports whether a scan or mutating operation is in flight.
func (s State) Busy() bool {
	switch s {
	case Scanning, Closing, Converting, Settling:
		return true
	}
	return false
}
