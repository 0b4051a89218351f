package detection

import "fmt"

// State is a step of the detection state machine.
type State int

const (
	// StateIdle is both the initial state and the recovery target for every failure.
	StateIdle State = iota
	// StateStartup acquires the camera and checks the device identity.
	StateStartup
	// StateOnBoarding waits for a QR code carrying the device identity.
	StateOnBoarding
	// StateWaitingForFaces probes frames until a recognition request can be built.
	StateWaitingForFaces
	// StateFaceDetectedOnDevice holds a built request until the throttle gate opens.
	StateFaceDetectedOnDevice
	// StateAPIResponseReceived inspects the remote recognition result.
	StateAPIResponseReceived
	// StateInterpretingAPIResults starts response playback.
	StateInterpretingAPIResults
	// StateWaitingForFacesToDisappear debounces the visitor leaving.
	StateWaitingForFacesToDisappear
)

//nolint:gochecknoglobals // Read-only lookup table.
var stateNames = map[State]string{
	StateIdle:                       "Idle",
	StateStartup:                    "Startup",
	StateOnBoarding:                 "OnBoarding",
	StateWaitingForFaces:            "WaitingForFaces",
	StateFaceDetectedOnDevice:       "FaceDetectedOnDevice",
	StateAPIResponseReceived:        "ApiResponseReceived",
	StateInterpretingAPIResults:     "InterpretingApiResults",
	StateWaitingForFacesToDisappear: "WaitingForFacesToDisappear",
}

// String returns the state name used in logs, metrics and the control API.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// Known reports whether s is one of the defined states.
func (s State) Known() bool {
	_, ok := stateNames[s]

	return ok
}
