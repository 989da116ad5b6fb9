package orchestrator

import "fmt"

type ActionState string

const (
	StateProposed            ActionState = "proposed"
	StateRejected            ActionState = "rejected"
	StateAdmitted            ActionState = "admitted"
	StatePendingConfirmation ActionState = "pending_confirmation"
	StateConfirmed           ActionState = "confirmed"
	StateDenied              ActionState = "denied"
	StateExpired             ActionState = "expired"
	StateDispatched          ActionState = "dispatched"
	StateCompleted           ActionState = "completed"
	StateFailed              ActionState = "failed"
	StateTimedOut            ActionState = "timed_out"
)

var allowedTransitions = map[ActionState]map[ActionState]struct{}{
	StateProposed: {
		StateRejected:            {},
		StateAdmitted:            {},
		StatePendingConfirmation: {},
	},
	StatePendingConfirmation: {
		StateConfirmed: {},
		StateDenied:    {},
		StateExpired:   {},
	},
	StateAdmitted: {
		StateDispatched: {},
		StateFailed:     {},
	},
	StateConfirmed: {
		StateDispatched: {},
		StateFailed:     {},
	},
	StateDispatched: {
		StateCompleted: {},
		StateFailed:    {},
		StateTimedOut:  {},
	},
	StateRejected:  {},
	StateDenied:    {},
	StateExpired:   {},
	StateCompleted: {},
	StateFailed:    {},
	StateTimedOut:  {},
}

func ValidateActionState(state ActionState) error {
	if _, ok := allowedTransitions[state]; !ok {
		return fmt.Errorf("invalid action state: %q", state)
	}
	return nil
}

func ValidateTransition(from, to ActionState) error {
	if err := ValidateActionState(from); err != nil {
		return err
	}
	if err := ValidateActionState(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid action transition: %s -> %s", from, to)
	}
	return nil
}

// Transition advances the action's state, rejecting moves the machine does
// not allow.
func (a *Action) Transition(to ActionState) error {
	if err := ValidateTransition(a.State, to); err != nil {
		return err
	}
	a.State = to
	return nil
}

// Terminal reports whether the state admits no further transitions.
func Terminal(state ActionState) bool {
	return len(allowedTransitions[state]) == 0
}
