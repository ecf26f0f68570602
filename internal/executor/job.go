package executor

import "fmt"

// State is a step in a job's lifecycle.
type State int

const (
	StateCreated State = iota
	StateCompiling
	StateRunning
	StateCompleted
	StateKilled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateCompiling:
		return "compiling"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateKilled:
		return "killed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateKilled || s == StateFailed
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateCreated:   {StateCompiling, StateRunning, StateFailed},
	StateCompiling: {StateRunning, StateCompleted, StateKilled, StateFailed},
	StateRunning:   {StateCompleted, StateKilled, StateFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// lifecycle tracks the current state of one job.
type lifecycle struct {
	jobID string
	state State
}

// advance moves to the next state. An illegal step is a programming error
// and panics; the scheduler recovers it into a Failed result.
func (l *lifecycle) advance(to State) {
	if !CanTransition(l.state, to) {
		panic(fmt.Sprintf("job %s: illegal transition %s -> %s", l.jobID, l.state, to))
	}
	l.state = to
}
