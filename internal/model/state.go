package model

import "fmt"

// State is a named orchestrator state.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateScheduling   State = "scheduling"
	StateSlewing      State = "slewing"
	StatePointing     State = "pointing"
	StateTracking     State = "tracking"
	StateObserving    State = "observing"
	StateAnalyzing    State = "analyzing"
	StateParking      State = "parking"
	StateParked       State = "parked"
	StateSleeping     State = "sleeping"
	StateHousekeeping State = "housekeeping"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateInitializing,
	StateReady,
	StateScheduling,
	StateSlewing,
	StatePointing,
	StateTracking,
	StateObserving,
	StateAnalyzing,
	StateParking,
	StateParked,
	StateSleeping,
	StateHousekeeping,
}

// idleStates may be held indefinitely without a pending continuation.
var idleStates = map[State]bool{
	StateParked:   true,
	StateSleeping: true,
}

// Transitions into parking and parked are handled separately: they are always legal.
var validStateTransitions = map[State]map[State]bool{
	StateParked: {
		StateInitializing: true,
		StateReady:        true,
		StateSleeping:     true,
		StateHousekeeping: true,
	},
	StateInitializing: {
		StateReady: true,
	},
	StateReady: {
		StateScheduling: true,
	},
	StateScheduling: {
		StateSlewing:  true,
		StateTracking: true,
	},
	StateSlewing: {
		StatePointing: true,
	},
	StatePointing: {
		StateSlewing:  true,
		StateTracking: true,
	},
	StateTracking: {
		StateObserving: true,
	},
	StateObserving: {
		StateAnalyzing: true,
	},
	StateAnalyzing: {
		StateObserving:  true,
		StateTracking:   true,
		StateScheduling: true,
	},
	StateParking: {},
	StateSleeping: {
		StateInitializing: true,
		StateReady:        true,
		StateHousekeeping: true,
	},
	StateHousekeeping: {
		StateSleeping: true,
		StateReady:    true,
	},
}

func (s State) String() string { return string(s) }

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, ok := validStateTransitions[s]
	return ok
}

// IsIdle reports whether the orchestrator may remain in s without a pending wait.
func (s State) IsIdle() bool {
	return idleStates[s]
}

// BypassesSafety reports whether entering s skips the safety check. Parking
// must always be possible; sleeping and housekeeping are only reachable from
// parked and leave the mount parked.
func (s State) BypassesSafety() bool {
	switch s {
	case StateParking, StateParked, StateSleeping, StateHousekeeping:
		return true
	}
	return false
}

// ValidateStateTransition returns an error if from → to is not a legal edge.
func ValidateStateTransition(from, to State) error {
	if !from.Valid() {
		return fmt.Errorf("unknown state: %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown state: %q", to)
	}
	switch to {
	case StateParking:
		if from == StateParking || from == StateParked {
			return fmt.Errorf("invalid state transition: %q → %q", from, to)
		}
		return nil
	case StateParked:
		return nil
	}
	if !validStateTransitions[from][to] {
		return fmt.Errorf("invalid state transition: %q → %q", from, to)
	}
	return nil
}
