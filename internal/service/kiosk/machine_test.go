package kiosk

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/exhibit-kiosk/internal/camera"
	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
	"github.com/oshokin/exhibit-kiosk/internal/remote/faceapi"
	"github.com/oshokin/exhibit-kiosk/internal/repository/identity"
	"github.com/oshokin/exhibit-kiosk/internal/vision"
)

var errTestProbe = errors.New("tracker glitch")

// TestMachine_IdleIsInert checks Idle ticks do nothing until started.
func TestMachine_IdleIsInert(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testPolicy())
	h.ticks(3)

	require.Equal(t, detection.StateIdle, h.machine.State())
	require.Zero(t, h.device.opened())
	require.Zero(t, h.tracker.callCount())
}

// TestMachine_OnboardingRoundtrip persists the QR identity and skips
// onboarding on the next Startup.
func TestMachine_OnboardingRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, testPolicy())

	require.Equal(t, detection.StateStartup, h.machine.Start(ctx))
	h.ticks(1)
	require.Equal(t, detection.StateOnBoarding, h.machine.State())
	require.Contains(t, h.speaker.spoken(), h.phrases.OnboardingPrompt)

	// No code in front of the camera yet.
	h.ticks(2)
	require.Equal(t, detection.StateOnBoarding, h.machine.State())

	h.decoder.text = " " + testDeviceID + "\n"
	h.ticks(1)
	require.Equal(t, detection.StateWaitingForFaces, h.machine.State())
	require.Contains(t, h.speaker.spoken(), h.phrases.OnboardingSuccess)

	stored, err := h.store.Get(ctx, identity.DeviceIDKey)
	require.NoError(t, err)
	require.Equal(t, testDeviceID, stored)

	require.Equal(t, detection.StateIdle, h.machine.Suspend(ctx))
	require.True(t, h.device.last().isClosed())

	require.Equal(t, detection.StateStartup, h.machine.Start(ctx))
	h.ticks(1)
	require.Equal(t, detection.StateWaitingForFaces, h.machine.State())
	require.Equal(t, 2, h.device.opened())
	require.Equal(t, testDeviceID, h.machine.Status().DeviceID)
}

// TestMachine_OnboardingRejectsForeignCodes ignores QR codes that are not identities.
func TestMachine_OnboardingRejectsForeignCodes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, testPolicy())

	h.machine.Start(ctx)
	h.decoder.text = "https://example.com/exhibit"
	h.ticks(3)

	require.Equal(t, detection.StateOnBoarding, h.machine.State())

	_, err := h.store.Get(ctx, identity.DeviceIDKey)
	require.ErrorIs(t, err, identity.ErrNotFound)
}

// TestMachine_StartupCameraFailure speaks the notice and returns to Idle.
func TestMachine_StartupCameraFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testPolicy())
	h.device.err = fmt.Errorf("no /dev/video0: %w", camera.ErrUnavailable)

	h.machine.Start(context.Background())
	h.ticks(1)

	require.Equal(t, detection.StateIdle, h.machine.State())
	require.Equal(t, []string{h.phrases.CameraUnavailable}, h.speaker.spoken())
}

// TestMachine_IdentityReadFailureRetries stays in Startup when the store fails.
func TestMachine_IdentityReadFailureRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testPolicy())
	h.store.err = errors.New("disk error")

	h.machine.Start(context.Background())
	h.ticks(1)
	require.Equal(t, detection.StateStartup, h.machine.State())

	h.store.err = nil
	h.onboarded(t)
	h.ticks(1)
	require.Equal(t, detection.StateWaitingForFaces, h.machine.State())
	require.True(t, h.device.streams[0].isClosed())
}

// TestMachine_CameraUnavailableForcesIdle covers every monitored state.
func TestMachine_CameraUnavailableForcesIdle(t *testing.T) {
	t.Parallel()

	states := []detection.State{
		detection.StateOnBoarding,
		detection.StateWaitingForFaces,
		detection.StateFaceDetectedOnDevice,
		detection.StateAPIResponseReceived,
		detection.StateInterpretingAPIResults,
		detection.StateWaitingForFacesToDisappear,
	}

	for _, state := range states {
		t.Run(state.String(), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, testPolicy())
			h.waitingForFaces(t)
			h.tracker.setFaces(oneFace())

			stream := h.device.last()
			h.machine.state.State = state
			stream.setStatus(fmt.Errorf("unplugged: %w", camera.ErrUnavailable))

			calls := h.tracker.callCount()
			h.ticks(3)

			require.Equal(t, detection.StateIdle, h.machine.State())
			require.True(t, stream.isClosed())
			require.False(t, h.frames.Attached())
			require.Equal(t, calls, h.tracker.callCount())
			require.Empty(t, h.recognizer.callTimes())
			require.Equal(t, []string{h.phrases.CameraUnavailable}, h.speaker.spoken())
		})
	}
}

// TestMachine_FrameReadUnavailable treats a vanished camera during a probe as hardware failure.
func TestMachine_FrameReadUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testPolicy())
	h.waitingForFaces(t)

	h.device.last().frameErr = fmt.Errorf("read: %w", camera.ErrUnavailable)
	h.ticks(1)

	require.Equal(t, detection.StateIdle, h.machine.State())
}

// TestMachine_TransientProbeFailure leaves the state unchanged.
func TestMachine_TransientProbeFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testPolicy())
	h.waitingForFaces(t)

	h.tracker.script(trackResult{err: errTestProbe})
	h.ticks(1)
	require.Equal(t, detection.StateWaitingForFaces, h.machine.State())

	h.tracker.setFaces(oneFace())
	h.ticks(1)
	require.Equal(t, detection.StateFaceDetectedOnDevice, h.machine.State())

	status := h.machine.Status()
	require.Equal(t, 1, status.FaceCount)
	require.False(t, status.APICalled)
}

// TestMachine_ProbeTimeoutSkipsTick bounds a stuck face tracker by the probe timeout.
func TestMachine_ProbeTimeoutSkipsTick(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		policy := testPolicy()
		policy.ProbeTimeout = 500 * time.Millisecond

		caller := new(stuckCaller)
		h := newHarnessWithTracker(t, policy, vision.NewWorker(caller))
		h.waitingForFaces(t)

		start := time.Now()
		h.ticks(1)

		require.Equal(t, policy.ProbeTimeout, time.Since(start))
		require.Equal(t, detection.StateWaitingForFaces, h.machine.State())
		require.Equal(t, int32(1), caller.calls.Load())
		require.NoError(t, h.device.last().Status())

		// The guard was released, the next tick probes again.
		h.ticks(1)
		require.Equal(t, int32(2), caller.calls.Load())
	})
}

// TestMachine_BusyGuardSkipsTick makes a tick a no-op while another read holds the camera.
func TestMachine_BusyGuardSkipsTick(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, testPolicy())
		h.waitingForFaces(t)
		h.tracker.setFaces(oneFace())

		stream := h.device.last()
		gate := make(chan struct{})
		stream.mu.Lock()
		stream.gate = gate
		stream.mu.Unlock()

		done := make(chan struct{})

		go func() {
			defer close(done)

			_, _ = h.frames.TryAcquireFrame(context.Background())
		}()

		synctest.Wait()

		h.ticks(2)
		require.Equal(t, detection.StateWaitingForFaces, h.machine.State())
		require.Zero(t, h.tracker.callCount())

		close(gate)
		<-done

		h.ticks(1)
		require.Equal(t, detection.StateFaceDetectedOnDevice, h.machine.State())
	})
}

// TestMachine_ThrottleGate issues one remote call per APIInterval.
func TestMachine_ThrottleGate(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, detection.Policy{
			APIInterval:         5 * time.Second,
			FacesDisappearGrace: 100 * time.Millisecond,
		})
		h.waitingForFaces(t)
		h.tracker.setFaces(oneFace())

		start := time.Now()

		// WaitingForFaces -> FaceDetectedOnDevice -> call at t=0.
		h.ticks(2)
		require.Equal(t, detection.StateAPIResponseReceived, h.machine.State())
		require.Len(t, h.recognizer.callTimes(), 1)
		require.WithinDuration(t, start, h.recognizer.callTimes()[0], 0)
		require.Equal(t, []string{testDeviceID}, h.recognizer.ids)
		require.Equal(t, []int{1}, h.speaker.introductions)

		// Empty answer, visitor leaves, a new one is detected at t=100ms.
		h.ticks(1)
		require.Equal(t, detection.StateWaitingForFacesToDisappear, h.machine.State())
		h.tracker.script(trackResult{}, trackResult{})
		h.ticks(2)
		require.Equal(t, detection.StateFaceDetectedOnDevice, h.machine.State())

		// Tick at t=1s: the gate is still closed.
		time.Sleep(900 * time.Millisecond)
		h.ticks(1)
		require.Equal(t, detection.StateFaceDetectedOnDevice, h.machine.State())
		require.Len(t, h.recognizer.callTimes(), 1)

		// Ticks every second until the gate opens.
		for h.machine.State() == detection.StateFaceDetectedOnDevice {
			time.Sleep(time.Second)
			h.ticks(1)
		}

		calls := h.recognizer.callTimes()
		require.Len(t, calls, 2)
		require.Equal(t, 5*time.Second, calls[1].Sub(calls[0]))
		require.WithinDuration(t, calls[1], h.machine.Status().LastImageAPIPush, 0)
	})
}

// TestMachine_MinReplayDelay blocks recognition right after playback stopped.
func TestMachine_MinReplayDelay(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		policy := detection.Policy{
			APIInterval:         time.Second,
			FacesDisappearGrace: 100 * time.Millisecond,
			MinReplayDelay:      10 * time.Second,
		}

		h := newHarness(t, policy)
		h.waitingForFaces(t)
		h.tracker.setFaces(oneFace())

		h.ticks(3)
		require.Equal(t, detection.StateWaitingForFacesToDisappear, h.machine.State())

		h.tracker.script(trackResult{}, trackResult{})
		h.ticks(1)
		require.Equal(t, detection.StateWaitingForFaces, h.machine.State())

		stopped := h.machine.Status().TimeVideoWasStopped
		require.WithinDuration(t, time.Now(), stopped, 0)

		// Faces stay in front of the camera the whole time.
		for range 30 {
			time.Sleep(500 * time.Millisecond)
			h.ticks(1)
		}

		calls := h.recognizer.callTimes()
		require.Len(t, calls, 2)
		require.GreaterOrEqual(t, calls[1].Sub(stopped), policy.MinReplayDelay)
		require.Less(t, calls[1].Sub(stopped), policy.MinReplayDelay+time.Second)
	})
}

// TestMachine_DisappearanceDebounce requires two negative probes.
func TestMachine_DisappearanceDebounce(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, testPolicy())
		h.recognizer.faces = []detection.FaceRecord{{FaceID: "f1", Name: "Ada"}}
		h.waitingForFaces(t)
		h.tracker.setFaces(oneFace())

		// Detect, call, inspect, play.
		h.ticks(4)
		require.Equal(t, detection.StateWaitingForFacesToDisappear, h.machine.State())
		require.Len(t, h.speaker.responses, 1)
		require.True(t, h.speaker.IsPlaying())

		// A head turn: negative then positive.
		before := time.Now()
		h.tracker.script(trackResult{}, trackResult{faces: oneFace()})
		h.ticks(1)

		require.Equal(t, 2*time.Second, time.Since(before))
		require.Equal(t, detection.StateWaitingForFacesToDisappear, h.machine.State())
		require.True(t, h.machine.Status().FacesStillPresent)
		require.True(t, h.speaker.IsPlaying())
		require.Zero(t, h.speaker.stopCount())
		require.True(t, h.machine.Status().TimeVideoWasStopped.IsZero())

		// A positive first probe needs no second one.
		calls := h.tracker.callCount()
		h.ticks(1)
		require.Equal(t, calls+1, h.tracker.callCount())

		// The visitor leaves.
		h.tracker.script(trackResult{}, trackResult{})
		h.ticks(1)

		status := h.machine.Status()
		require.Equal(t, detection.StateWaitingForFaces, status.State)
		require.False(t, status.FacesStillPresent)
		require.False(t, h.speaker.IsPlaying())
		require.Equal(t, 1, h.speaker.stopCount())
		require.WithinDuration(t, time.Now(), status.TimeVideoWasStopped, 0)
		require.False(t, status.APICalled)
	})
}

// TestMachine_DisappearanceProbeFailureCountsAsAbsent keeps the lenient behaviour.
func TestMachine_DisappearanceProbeFailureCountsAsAbsent(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, testPolicy())
		h.waitingForFaces(t)
		h.tracker.setFaces(oneFace())
		h.ticks(3)
		require.Equal(t, detection.StateWaitingForFacesToDisappear, h.machine.State())

		h.tracker.script(trackResult{err: errTestProbe}, trackResult{err: errTestProbe})
		h.ticks(1)

		require.Equal(t, detection.StateWaitingForFaces, h.machine.State())
		require.Equal(t, 1, h.speaker.stopCount())
	})
}

// TestMachine_DisappearanceInterruptedBySuspend returns without a verdict when ctx ends.
func TestMachine_DisappearanceInterruptedBySuspend(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, testPolicy())
		h.waitingForFaces(t)
		h.tracker.setFaces(oneFace())
		h.ticks(3)

		h.tracker.script(trackResult{}, trackResult{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		h.machine.Tick(ctx)

		require.Equal(t, detection.StateWaitingForFacesToDisappear, h.machine.State())
		require.Zero(t, h.speaker.stopCount())
	})
}

// TestMachine_EmptyRecognition skips InterpretingApiResults.
func TestMachine_EmptyRecognition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testPolicy())
	h.waitingForFaces(t)
	h.tracker.setFaces(oneFace())

	h.ticks(3)

	require.Equal(t, detection.StateWaitingForFacesToDisappear, h.machine.State())
	require.Equal(t, []string{
		"Startup", "WaitingForFaces", "FaceDetectedOnDevice", "ApiResponseReceived", "WaitingForFacesToDisappear",
	}, h.events.visited())
	require.Empty(t, h.speaker.responses)

	status := h.machine.Status()
	require.True(t, status.APICalled)
	require.Zero(t, status.FacesFound)
	require.Zero(t, status.FaceCount)
}

// TestMachine_RemoteFailureActsAsEmpty treats a non-2xx status as "no faces"
// but keeps its classification.
func TestMachine_RemoteFailureActsAsEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		class string
	}{
		{name: "bad request", err: fmt.Errorf("%w: status 400", faceapi.ErrBadRequest), class: "bad_request"},
		{name: "server error", err: fmt.Errorf("%w: status 503", faceapi.ErrRemote), class: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, testPolicy())
			h.recognizer.faces = nil
			h.recognizer.err = tt.err
			h.waitingForFaces(t)
			h.tracker.setFaces(oneFace())

			h.ticks(3)

			require.Equal(t, detection.StateWaitingForFacesToDisappear, h.machine.State())
			require.NotContains(t, h.events.visited(), "InterpretingApiResults")

			recognitions := h.events.recognitions()
			require.Len(t, recognitions, 1)
			require.Equal(t, tt.class, recognitions[0].Error)

			status := h.machine.Status()
			require.True(t, status.APICalled)
			require.Zero(t, status.FacesFound)
		})
	}
}

// TestMachine_InterpretingRespectsPlayback does not restart playback.
func TestMachine_InterpretingRespectsPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testPolicy())
	h.recognizer.faces = []detection.FaceRecord{{FaceID: "f1"}}
	h.waitingForFaces(t)
	h.tracker.setFaces(oneFace())

	h.ticks(3)
	require.Equal(t, detection.StateInterpretingAPIResults, h.machine.State())
	require.Zero(t, h.machine.Status().FaceCount)

	h.speaker.setPlaying(true)
	h.ticks(1)

	require.Equal(t, detection.StateWaitingForFacesToDisappear, h.machine.State())
	require.Empty(t, h.speaker.responses)
}

// TestMachine_UnknownStateResets recovers from a corrupted state.
func TestMachine_UnknownStateResets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testPolicy())
	h.waitingForFaces(t)

	stream := h.device.last()
	h.machine.state.State = detection.State(42)
	h.ticks(1)

	require.Equal(t, detection.StateIdle, h.machine.State())
	require.True(t, stream.isClosed())
}

// TestMachine_SuspendStopsPlayback releases the camera and stops speech.
func TestMachine_SuspendStopsPlayback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, testPolicy())
	h.waitingForFaces(t)

	require.Equal(t, detection.StateIdle, h.machine.Suspend(ctx))
	require.Equal(t, 1, h.speaker.stopCount())
	require.True(t, h.device.last().isClosed())

	// Suspending an idle machine is a no-op.
	require.Equal(t, detection.StateIdle, h.machine.Suspend(ctx))
	require.Equal(t, 1, h.speaker.stopCount())

	// Start is ignored outside Idle.
	h.machine.Start(ctx)
	h.ticks(1)
	require.Equal(t, detection.StateWaitingForFaces, h.machine.Start(ctx))
}
