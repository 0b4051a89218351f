package detection

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// TestTransition_Table walks the documented transition table.
func TestTransition_Table(t *testing.T) {
	t.Parallel()

	type step struct {
		From    State
		Outcome Outcome
		To      State
	}

	steps := []step{
		{StateIdle, OutcomeNone, StateIdle},
		{StateIdle, OutcomeStartRequested, StateStartup},
		{StateStartup, OutcomeIdentityMissing, StateOnBoarding},
		{StateStartup, OutcomeIdentityPresent, StateWaitingForFaces},
		{StateStartup, OutcomeCameraUnavailable, StateIdle},
		{StateOnBoarding, OutcomeNone, StateOnBoarding},
		{StateOnBoarding, OutcomeIdentityDecoded, StateWaitingForFaces},
		{StateWaitingForFaces, OutcomeNone, StateWaitingForFaces},
		{StateWaitingForFaces, OutcomeRequestBuilt, StateFaceDetectedOnDevice},
		{StateFaceDetectedOnDevice, OutcomeNone, StateFaceDetectedOnDevice},
		{StateFaceDetectedOnDevice, OutcomeRemoteCalled, StateAPIResponseReceived},
		{StateAPIResponseReceived, OutcomeFacesRecognized, StateInterpretingAPIResults},
		{StateAPIResponseReceived, OutcomeNoFacesRecognized, StateWaitingForFacesToDisappear},
		{StateInterpretingAPIResults, OutcomePlaybackDispatched, StateWaitingForFacesToDisappear},
		{StateWaitingForFacesToDisappear, OutcomeNone, StateWaitingForFacesToDisappear},
		{StateWaitingForFacesToDisappear, OutcomeFacesGone, StateWaitingForFaces},
	}

	got := make([]step, 0, len(steps))
	for _, s := range steps {
		got = append(got, step{s.From, s.Outcome, Transition(s.From, s.Outcome)})
	}

	if diff := cmp.Diff(steps, got); diff != "" {
		t.Fatalf("transition table mismatch (-want +got):\n%s", diff)
	}
}

// TestTransition_IdleTargets checks that every state falls back to Idle on failure or suspend.
func TestTransition_IdleTargets(t *testing.T) {
	t.Parallel()

	for state := range stateNames {
		require.Equal(t, StateIdle, Transition(state, OutcomeCameraUnavailable), state.String())
		require.Equal(t, StateIdle, Transition(state, OutcomeSuspended), state.String())
	}

	require.Equal(t, StateIdle, Transition(State(42), OutcomeNone))
	require.Equal(t, StateIdle, Transition(State(-1), OutcomeRequestBuilt))
}

// TestTransition_IgnoresForeignOutcomes ensures outcomes for other states do not move the machine.
func TestTransition_IgnoresForeignOutcomes(t *testing.T) {
	t.Parallel()

	require.Equal(t, StateWaitingForFaces, Transition(StateWaitingForFaces, OutcomeFacesGone))
	require.Equal(t, StateOnBoarding, Transition(StateOnBoarding, OutcomeStartRequested))
	require.Equal(t, StateFaceDetectedOnDevice, Transition(StateFaceDetectedOnDevice, OutcomeRequestBuilt))
}

// TestStateString covers named and unknown states.
func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ApiResponseReceived", StateAPIResponseReceived.String())
	require.Equal(t, "State(99)", State(99).String())
	require.False(t, State(99).Known())
}
