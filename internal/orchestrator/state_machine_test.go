package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		name string
		from ActionState
		to   ActionState
		ok   bool
	}{
		{name: "proposed to admitted", from: StateProposed, to: StateAdmitted, ok: true},
		{name: "proposed to rejected", from: StateProposed, to: StateRejected, ok: true},
		{name: "proposed to pending", from: StateProposed, to: StatePendingConfirmation, ok: true},
		{name: "pending to confirmed", from: StatePendingConfirmation, to: StateConfirmed, ok: true},
		{name: "pending to denied", from: StatePendingConfirmation, to: StateDenied, ok: true},
		{name: "pending to expired", from: StatePendingConfirmation, to: StateExpired, ok: true},
		{name: "admitted to dispatched", from: StateAdmitted, to: StateDispatched, ok: true},
		{name: "confirmed to dispatched", from: StateConfirmed, to: StateDispatched, ok: true},
		{name: "dispatched to completed", from: StateDispatched, to: StateCompleted, ok: true},
		{name: "dispatched to timed out", from: StateDispatched, to: StateTimedOut, ok: true},
		{name: "proposed straight to dispatched", from: StateProposed, to: StateDispatched, ok: false},
		{name: "pending straight to dispatched", from: StatePendingConfirmation, to: StateDispatched, ok: false},
		{name: "denied to dispatched", from: StateDenied, to: StateDispatched, ok: false},
		{name: "expired to confirmed", from: StateExpired, to: StateConfirmed, ok: false},
		{name: "completed to anything", from: StateCompleted, to: StateFailed, ok: false},
		{name: "unknown state", from: ActionState("bogus"), to: StateAdmitted, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTransition(tc.from, tc.to)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestActionTransitionMutatesOnlyWhenValid(t *testing.T) {
	action := Action{ID: NewActionID(), State: StateProposed}
	require.NoError(t, action.Transition(StateAdmitted))
	assert.Equal(t, StateAdmitted, action.State)

	err := action.Transition(StateCompleted)
	require.Error(t, err)
	assert.Equal(t, StateAdmitted, action.State, "failed transition leaves state untouched")
}

func TestTerminalStates(t *testing.T) {
	for _, state := range []ActionState{StateRejected, StateDenied, StateExpired, StateCompleted, StateFailed, StateTimedOut} {
		assert.True(t, Terminal(state), string(state))
	}
	for _, state := range []ActionState{StateProposed, StatePendingConfirmation, StateAdmitted, StateConfirmed, StateDispatched} {
		assert.False(t, Terminal(state), string(state))
	}
}
