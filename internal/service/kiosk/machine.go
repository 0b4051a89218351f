package kiosk

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/exhibit-kiosk/internal/camera"
	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
	"github.com/oshokin/exhibit-kiosk/internal/events"
	"github.com/oshokin/exhibit-kiosk/internal/logger"
	"github.com/oshokin/exhibit-kiosk/internal/metrics"
	"github.com/oshokin/exhibit-kiosk/internal/remote/faceapi"
	"github.com/oshokin/exhibit-kiosk/internal/repository/identity"
	"github.com/oshokin/exhibit-kiosk/internal/speech"
	"github.com/oshokin/exhibit-kiosk/internal/vision"
)

// Probe names used in logs and metrics.
const (
	probePresence    = "presence"
	probeDisappear   = "disappearance"
	probeQR          = "qr"
	probeCameraCheck = "camera_status"
)

// Recognizer is the remote recognition collaborator.
type Recognizer interface {
	PostImage(ctx context.Context, deviceID string, image []byte) ([]detection.FaceRecord, error)
}

// IdentityStore is the device identity persistence used by the machine.
type IdentityStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Dependencies are the collaborators of the state machine.
type Dependencies struct {
	// Camera opens the preview stream on Startup.
	Camera camera.Device
	// Frames guards frame reads from the open stream.
	Frames *camera.FrameSource
	// Tracker finds faces on frames.
	Tracker vision.FaceTracker
	// Decoder reads onboarding QR codes.
	Decoder vision.QRDecoder
	// Builder turns a frame with faces into an upload.
	Builder *vision.RequestBuilder
	// Recognizer is the remote recognition service.
	Recognizer Recognizer
	// Speaker is the speech output.
	Speaker speech.Speaker
	// Phrases are the spoken notices.
	Phrases speech.Phrases
	// Identity stores the device identity.
	Identity IdentityStore
	// Events receives transitions and recognition results, optional.
	Events events.Publisher
	// Metrics records tick metrics, optional.
	Metrics *metrics.Recorder
}

// Machine is the detection state machine. It is not safe for concurrent use;
// Runtime serializes every call.
type Machine struct {
	deps         Dependencies
	presence     *vision.PresenceProbe
	qr           *vision.QRProbe
	cameraDevice string
	policy       detection.Policy
	state        *detection.DetectionState
	deviceID     string
}

// NewMachine creates an Idle machine.
func NewMachine(deps Dependencies, cameraDevice string, policy detection.Policy) *Machine {
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}

	return &Machine{
		deps:         deps,
		presence:     vision.NewPresenceProbe(deps.Frames, deps.Tracker),
		qr:           vision.NewQRProbe(deps.Frames, deps.Decoder),
		cameraDevice: cameraDevice,
		policy:       policy,
		state:        detection.NewDetectionState(),
	}
}

// State returns the current state.
func (m *Machine) State() detection.State {
	return m.state.State
}

// Status returns a copy of the reportable state.
func (m *Machine) Status() detection.Status {
	return detection.Status{
		Snapshot: m.state.Snapshot(),
		DeviceID: m.deviceID,
	}
}

// UpdatePolicy replaces the timing policy; it applies from the next tick.
func (m *Machine) UpdatePolicy(policy detection.Policy) {
	m.policy = policy
}

// Start leaves Idle for Startup; in any other state it does nothing.
func (m *Machine) Start(ctx context.Context) detection.State {
	m.apply(ctx, detection.OutcomeStartRequested)

	return m.state.State
}

// Suspend drives the machine to Idle, releasing the camera and stopping playback.
func (m *Machine) Suspend(ctx context.Context) detection.State {
	if m.state.State != detection.StateIdle {
		m.deps.Speaker.Stop(ctx)
	}

	m.apply(ctx, detection.OutcomeSuspended)

	return m.state.State
}

// Tick performs the work of the current state and applies the resulting transition.
func (m *Machine) Tick(ctx context.Context) {
	started := time.Now()
	from := m.state.State

	m.apply(ctx, m.step(ctx))

	m.deps.Metrics.ObserveTick(from.String(), time.Since(started))
}

// step runs the action of the current state.
func (m *Machine) step(ctx context.Context) detection.Outcome {
	current := m.state.State

	if current != detection.StateIdle && current != detection.StateStartup && current.Known() {
		if outcome, lost := m.checkCamera(ctx); lost {
			return outcome
		}
	}

	switch current {
	case detection.StateIdle:
		return detection.OutcomeNone
	case detection.StateStartup:
		return m.startup(ctx)
	case detection.StateOnBoarding:
		return m.onboard(ctx)
	case detection.StateWaitingForFaces:
		return m.waitForFaces(ctx)
	case detection.StateFaceDetectedOnDevice:
		return m.recognize(ctx)
	case detection.StateAPIResponseReceived:
		return m.inspectResponse()
	case detection.StateInterpretingAPIResults:
		return m.interpret(ctx)
	case detection.StateWaitingForFacesToDisappear:
		return m.waitForDisappearance(ctx)
	default:
		logger.WarnKV(ctx, "Unknown state, resetting", "state", current)

		return detection.OutcomeNone
	}
}

// checkCamera reports a lost camera before any probe is attempted.
func (m *Machine) checkCamera(ctx context.Context) (detection.Outcome, bool) {
	err := m.deps.Frames.Status()
	if err == nil {
		return detection.OutcomeNone, false
	}

	if errors.Is(err, camera.ErrUnavailable) {
		return m.cameraLost(ctx, err), true
	}

	m.deps.Metrics.IncProbeFailure(probeCameraCheck)
	logger.WarnKV(ctx, "Camera status check failed", "error", err)

	return detection.OutcomeNone, false
}

// cameraLost speaks the hardware notice and requests Idle.
func (m *Machine) cameraLost(ctx context.Context, err error) detection.Outcome {
	logger.ErrorKV(ctx, "Camera unavailable", "state", m.state.State, "error", err)
	m.deps.Speaker.Say(ctx, m.deps.Phrases.CameraUnavailable)

	return detection.OutcomeCameraUnavailable
}

// probeFailed maps a probe error to an outcome: a busy guard and transient
// errors leave the state unchanged, a missing camera leads to Idle.
func (m *Machine) probeFailed(ctx context.Context, probe string, err error) detection.Outcome {
	switch {
	case errors.Is(err, camera.ErrBusy):
		logger.DebugKV(ctx, "Frame source busy, skipping tick", "probe", probe)

		return detection.OutcomeNone
	case errors.Is(err, camera.ErrUnavailable):
		return m.cameraLost(ctx, err)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		m.deps.Metrics.IncProbeFailure(probe)
		logger.WarnKV(ctx, "Probe timed out, skipping tick", "probe", probe, "timeout", m.policy.ProbeTimeout)

		return detection.OutcomeNone
	default:
		m.deps.Metrics.IncProbeFailure(probe)
		logger.WarnKV(ctx, "Probe failed", "probe", probe, "error", err)

		return detection.OutcomeNone
	}
}

// startup opens the camera and checks whether the device was onboarded.
func (m *Machine) startup(ctx context.Context) detection.Outcome {
	stream, err := m.deps.Camera.StartPreview(ctx, m.cameraDevice)
	if err != nil {
		return m.cameraLost(ctx, err)
	}

	if previous := m.deps.Frames.Attach(stream); previous != nil {
		_ = previous.Close()
	}

	deviceID, err := m.deps.Identity.Get(ctx, identity.DeviceIDKey)

	switch {
	case errors.Is(err, identity.ErrNotFound):
		logger.Info(ctx, "Device identity not set, onboarding")
		m.deps.Speaker.Say(ctx, m.deps.Phrases.OnboardingPrompt)

		return detection.OutcomeIdentityMissing
	case err != nil:
		logger.ErrorKV(ctx, "Failed to read device identity", "error", err)

		return detection.OutcomeNone
	}

	m.deviceID = deviceID
	logger.InfoKV(ctx, "Device identity loaded", "device_id", deviceID)

	return detection.OutcomeIdentityPresent
}

// onboard decodes and persists the device identity shown to the camera.
func (m *Machine) onboard(ctx context.Context) detection.Outcome {
	probeCtx, cancel := m.probeContext(ctx)
	text, ok, err := m.qr.Probe(probeCtx)

	cancel()

	if err != nil {
		return m.probeFailed(ctx, probeQR, err)
	}

	if !ok {
		return detection.OutcomeNone
	}

	id, err := uuid.Parse(strings.TrimSpace(text))
	if err != nil {
		logger.WarnKV(ctx, "Ignoring QR code that is not a device identity", "error", err)

		return detection.OutcomeNone
	}

	if err = m.deps.Identity.Set(ctx, identity.DeviceIDKey, id.String()); err != nil {
		logger.ErrorKV(ctx, "Failed to persist device identity", "error", err)

		return detection.OutcomeNone
	}

	m.deviceID = id.String()
	logger.InfoKV(ctx, "Device onboarded", "device_id", m.deviceID)
	m.deps.Speaker.Say(ctx, m.deps.Phrases.OnboardingSuccess)

	return detection.OutcomeIdentityDecoded
}

// waitForFaces builds a recognition request once faces show up.
func (m *Machine) waitForFaces(ctx context.Context) detection.Outcome {
	probeCtx, cancel := m.probeContext(ctx)
	frame, faces, err := m.presence.Probe(probeCtx)

	cancel()

	if err != nil {
		return m.probeFailed(ctx, probePresence, err)
	}

	params, err := m.deps.Builder.Build(frame, faces)
	if err != nil {
		logger.WarnKV(ctx, "Failed to build recognition request", "error", err)

		return detection.OutcomeNone
	}

	if params == nil {
		return detection.OutcomeNone
	}

	m.state.APIRequestParameters = params
	logger.DebugKV(ctx, "Faces detected on device", "faces", len(params.Faces), "request_id", params.RequestID)

	return detection.OutcomeRequestBuilt
}

// recognize calls the remote service once the throttle gate opens.
// A failed call counts as "no faces" so the cycle continues without retrying.
func (m *Machine) recognize(ctx context.Context) detection.Outcome {
	now := time.Now()
	if !m.policy.GateOpen(now, m.state) {
		return detection.OutcomeNone
	}

	params := m.state.APIRequestParameters
	if params == nil {
		params = new(detection.RequestParameters)
	}

	m.deps.Speaker.PlayIntroduction(ctx, len(params.Faces))

	faces, err := m.deps.Recognizer.PostImage(ctx, m.deviceID, params.Image)
	m.state.RecordAPIPush(now)

	event := &events.Event{
		Kind:      events.KindRecognition,
		DeviceID:  m.deviceID,
		Time:      now,
		RequestID: params.RequestID,
	}

	switch {
	case err != nil:
		classification := faceapi.Classify(err)
		logger.ErrorKV(ctx, "Recognition call failed",
			"classification", classification,
			"request_id", params.RequestID,
			"error", err)
		m.deps.Metrics.IncAPICall(metrics.ResultFailed)

		faces = make([]detection.FaceRecord, 0)
		event.Error = classification
	case len(faces) == 0:
		m.deps.Metrics.IncAPICall(metrics.ResultEmpty)
	default:
		m.deps.Metrics.IncAPICall(metrics.ResultSuccess)
	}

	m.state.FacesFoundByAPI = faces
	event.Faces = faces
	m.publish(ctx, event)

	logger.InfoKV(ctx, "Recognition finished", "request_id", params.RequestID, "faces", len(faces))

	return detection.OutcomeRemoteCalled
}

// inspectResponse routes on the recognition result.
func (m *Machine) inspectResponse() detection.Outcome {
	if len(m.state.FacesFoundByAPI) > 0 {
		return detection.OutcomeFacesRecognized
	}

	return detection.OutcomeNoFacesRecognized
}

// interpret starts response playback unless something is already playing.
func (m *Machine) interpret(ctx context.Context) detection.Outcome {
	if !m.deps.Speaker.IsPlaying() {
		m.deps.Speaker.PlayResponse(ctx, m.state.FacesFoundByAPI)
	}

	return detection.OutcomePlaybackDispatched
}

// waitForDisappearance confirms absence with two negative probes separated
// by the grace interval. A probe failure other than a busy guard counts as
// absence.
func (m *Machine) waitForDisappearance(ctx context.Context) detection.Outcome {
	for attempt := range 2 {
		if attempt > 0 && !sleep(ctx, m.policy.FacesDisappearGrace) {
			return detection.OutcomeNone
		}

		present, err := m.present(ctx)

		switch {
		case errors.Is(err, camera.ErrBusy):
			return detection.OutcomeNone
		case errors.Is(err, camera.ErrUnavailable):
			return m.cameraLost(ctx, err)
		case err != nil:
			m.deps.Metrics.IncProbeFailure(probeDisappear)
			logger.WarnKV(ctx, "Disappearance probe failed, treating as absent", "attempt", attempt+1, "error", err)
		case present:
			m.state.FacesStillPresent = true

			return detection.OutcomeNone
		}
	}

	m.deps.Speaker.Stop(ctx)
	m.state.RecordVideoStopped(time.Now())
	m.state.FacesStillPresent = false

	logger.Info(ctx, "Faces gone, playback stopped")

	return detection.OutcomeFacesGone
}

// present runs one bounded presence probe.
func (m *Machine) present(ctx context.Context) (bool, error) {
	ctx, cancel := m.probeContext(ctx)
	defer cancel()

	return m.presence.Present(ctx)
}

// probeContext bounds a probe by the policy's probe timeout.
func (m *Machine) probeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.policy.ProbeTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, m.policy.ProbeTimeout)
}

// apply moves to the state chosen by the transition function and runs entry actions.
func (m *Machine) apply(ctx context.Context, outcome detection.Outcome) {
	from := m.state.State
	to := detection.Transition(from, outcome)

	if from == to {
		return
	}

	switch to {
	case detection.StateIdle:
		m.enterIdle(ctx)
	case detection.StateWaitingForFaces:
		m.state.ResetCycle()
	case detection.StateInterpretingAPIResults, detection.StateWaitingForFacesToDisappear:
		m.state.APIRequestParameters = nil
	}

	m.state.State = to

	logger.InfoKV(ctx, "State changed", "from", from, "to", to)
	m.deps.Metrics.IncTransition(from.String(), to.String())
	m.publish(ctx, &events.Event{
		Kind:     events.KindTransition,
		DeviceID: m.deviceID,
		Time:     time.Now(),
		From:     from.String(),
		To:       to.String(),
	})
}

// enterIdle releases the camera and forgets the current visitor.
func (m *Machine) enterIdle(ctx context.Context) {
	if stream := m.deps.Frames.Detach(); stream != nil {
		if err := stream.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close camera stream", "error", err)
		}
	}

	m.state.ResetCycle()
	m.state.FacesStillPresent = false
}

// publish sends an event, logging failures.
func (m *Machine) publish(ctx context.Context, event *events.Event) {
	if err := m.deps.Events.Publish(ctx, event); err != nil {
		logger.WarnKV(ctx, "Failed to publish event", "kind", event.Kind, "error", err)
	}
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
