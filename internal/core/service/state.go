package service

import "fmt"

// State is a step of the reservation protocol.
type State int

const (
	StateStart State = iota
	StateQuoted
	StateDecremented
	StateRecorded
	StateRejected
	StateCompensating
	StateCompensated
)

var stateNames = map[State]string{
	StateStart:        "start",
	StateQuoted:       "quoted",
	StateDecremented:  "decremented",
	StateRecorded:     "recorded",
	StateRejected:     "rejected",
	StateCompensating: "compensating",
	StateCompensated:  "compensated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	StateStart:        {StateQuoted, StateRejected},
	StateQuoted:       {StateStart, StateDecremented, StateRejected, StateCompensating},
	StateDecremented:  {StateRecorded, StateCompensating},
	StateCompensating: {StateCompensated, StateRecorded, StateRejected},
}

func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
