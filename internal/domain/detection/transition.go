package detection

// Outcome is what a tick observed; together with the current state it
// determines the next state.
type Outcome int

const (
	// OutcomeNone leaves the state unchanged.
	OutcomeNone Outcome = iota
	// OutcomeStartRequested is an external request to leave Idle.
	OutcomeStartRequested
	// OutcomeSuspended is an explicit suspend.
	OutcomeSuspended
	// OutcomeCameraUnavailable reports a missing or disabled camera.
	OutcomeCameraUnavailable
	// OutcomeIdentityMissing means the device has not been onboarded.
	OutcomeIdentityMissing
	// OutcomeIdentityPresent means a device identity is stored.
	OutcomeIdentityPresent
	// OutcomeIdentityDecoded means a QR code was decoded and persisted.
	OutcomeIdentityDecoded
	// OutcomeRequestBuilt means a recognition payload is ready.
	OutcomeRequestBuilt
	// OutcomeRemoteCalled means the recognition call was made (successfully or not).
	OutcomeRemoteCalled
	// OutcomeFacesRecognized means the remote call returned at least one face.
	OutcomeFacesRecognized
	// OutcomeNoFacesRecognized means the remote call returned no faces or failed.
	OutcomeNoFacesRecognized
	// OutcomePlaybackDispatched means response playback was handled.
	OutcomePlaybackDispatched
	// OutcomeFacesGone means absence was confirmed by two probes.
	OutcomeFacesGone
)

//nolint:gochecknoglobals // Read-only transition table.
var transitions = map[State]map[Outcome]State{
	StateIdle: {
		OutcomeStartRequested: StateStartup,
	},
	StateStartup: {
		OutcomeIdentityMissing: StateOnBoarding,
		OutcomeIdentityPresent: StateWaitingForFaces,
	},
	StateOnBoarding: {
		OutcomeIdentityDecoded: StateWaitingForFaces,
	},
	StateWaitingForFaces: {
		OutcomeRequestBuilt: StateFaceDetectedOnDevice,
	},
	StateFaceDetectedOnDevice: {
		OutcomeRemoteCalled: StateAPIResponseReceived,
	},
	StateAPIResponseReceived: {
		OutcomeFacesRecognized:   StateInterpretingAPIResults,
		OutcomeNoFacesRecognized: StateWaitingForFacesToDisappear,
	},
	StateInterpretingAPIResults: {
		OutcomePlaybackDispatched: StateWaitingForFacesToDisappear,
	},
	StateWaitingForFacesToDisappear: {
		OutcomeFacesGone: StateWaitingForFaces,
	},
}

// Transition is the pure transition function of the state machine.
// Unknown states, suspends and camera failures all lead to Idle; an outcome
// that does not apply to the current state leaves it unchanged.
func Transition(current State, outcome Outcome) State {
	if !current.Known() {
		return StateIdle
	}

	switch outcome {
	case OutcomeSuspended, OutcomeCameraUnavailable:
		return StateIdle
	case OutcomeNone:
		return current
	}

	if next, ok := transitions[current][outcome]; ok {
		return next
	}

	return current
}
