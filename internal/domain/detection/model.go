package detection

import (
	"image"
	"time"
)

// FaceRegion is one face found on a frame by the local face tracker.
type FaceRegion struct {
	// Bounds is the face rectangle in frame pixel coordinates.
	Bounds image.Rectangle
}

// FaceRectangle is the face geometry reported by the remote recognition service.
type FaceRectangle struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FaceRecord is one face recognized by the remote service.
type FaceRecord struct {
	// FaceID identifies the face detection on the remote side.
	FaceID string `json:"faceId"`
	// PersonID identifies the matched person, empty for strangers.
	PersonID string `json:"personId,omitempty"`
	// Name is the display name of the matched person.
	Name string `json:"name,omitempty"`
	// Confidence is the match confidence in the 0..1 range.
	Confidence float64 `json:"confidence,omitempty"`
	// FaceRectangle locates the face on the uploaded image.
	FaceRectangle FaceRectangle `json:"faceRectangle"`
}

// RequestParameters is the payload built on face presence and consumed by
// the remote recognition call.
type RequestParameters struct {
	// Image is the encoded (JPEG) image sent to the service.
	Image []byte
	// Faces is the geometry detected on the device.
	Faces []FaceRegion
	// RequestID correlates the upload with logs and events.
	RequestID string
}

// DetectionState is the single mutable state owned by the state machine.
// It is mutated only from the tick handler and its sequential continuations.
type DetectionState struct {
	// State is the current step.
	State State
	// APIRequestParameters is set only in FaceDetectedOnDevice and ApiResponseReceived.
	APIRequestParameters *RequestParameters
	// FacesFoundByAPI is nil until the remote call is made; an empty slice means "no faces".
	FacesFoundByAPI []FaceRecord
	// FacesStillPresent is the last observed presence signal used for debounce.
	FacesStillPresent bool
	// LastImageAPIPush is the time of the last remote recognition attempt.
	LastImageAPIPush time.Time
	// TimeVideoWasStopped is the time of the last transition out of playback.
	TimeVideoWasStopped time.Time
}

// NewDetectionState returns an Idle state whose timestamps never block the throttle gate.
func NewDetectionState() *DetectionState {
	return &DetectionState{
		State: StateIdle,
	}
}

// RecordAPIPush advances LastImageAPIPush; earlier instants are ignored.
func (d *DetectionState) RecordAPIPush(at time.Time) {
	if at.After(d.LastImageAPIPush) {
		d.LastImageAPIPush = at
	}
}

// RecordVideoStopped advances TimeVideoWasStopped; earlier instants are ignored.
func (d *DetectionState) RecordVideoStopped(at time.Time) {
	if at.After(d.TimeVideoWasStopped) {
		d.TimeVideoWasStopped = at
	}
}

// ResetCycle clears per-visitor data when a new detection cycle begins.
func (d *DetectionState) ResetCycle() {
	d.APIRequestParameters = nil
	d.FacesFoundByAPI = nil
}

// Snapshot is a read-only copy of DetectionState for reporting.
type Snapshot struct {
	State               State
	FaceCount           int
	FacesFound          int
	APICalled           bool
	FacesStillPresent   bool
	LastImageAPIPush    time.Time
	TimeVideoWasStopped time.Time
}

// Snapshot copies the reportable part of the state.
func (d *DetectionState) Snapshot() Snapshot {
	s := Snapshot{
		State:               d.State,
		FacesFound:          len(d.FacesFoundByAPI),
		APICalled:           d.FacesFoundByAPI != nil,
		FacesStillPresent:   d.FacesStillPresent,
		LastImageAPIPush:    d.LastImageAPIPush,
		TimeVideoWasStopped: d.TimeVideoWasStopped,
	}

	if d.APIRequestParameters != nil {
		s.FaceCount = len(d.APIRequestParameters.Faces)
	}

	return s
}

// Status is a Snapshot together with the device identity, as reported to operators.
type Status struct {
	Snapshot

	// DeviceID is the identity loaded on Startup, empty before.
	DeviceID string
}
