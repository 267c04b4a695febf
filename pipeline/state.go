package pipeline

import "fmt"

// State is the lifecycle state of a run.
type State int

// Run states.
const (
	StateRunning  State = iota + 1 // fetching and dispatching batches
	StateDraining                  // shutdown requested, finishing in-flight work
	StateStopped                   // finished cleanly
	StateAborted                   // finished on a fatal error
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText lets reports carry the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateRunning, StateDraining, StateStopped, StateAborted} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Terminal reports whether a run in this state has finished.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateAborted
}
