package kiosk

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/exhibit-kiosk/internal/camera"
	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
	"github.com/oshokin/exhibit-kiosk/internal/events"
	"github.com/oshokin/exhibit-kiosk/internal/repository/identity"
	"github.com/oshokin/exhibit-kiosk/internal/speech"
	"github.com/oshokin/exhibit-kiosk/internal/vision"
)

const testDeviceID = "6f1c2b8e-3d4a-4c5b-9e7f-1a2b3c4d5e6f"

// fakeStream is an open camera preview with switchable health.
type fakeStream struct {
	mu       sync.Mutex
	status   error
	frameErr error
	closed   bool
	// gate blocks Frame until closed when set.
	gate chan struct{}
}

func (s *fakeStream) Frame(ctx context.Context, _ camera.PixelFormat, w, h int) (*camera.Frame, error) {
	s.mu.Lock()
	gate, err := s.gate, s.frameErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}

	return &camera.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, w, h)),
		Width:     w,
		Height:    h,
		Timestamp: time.Now(),
	}, nil
}

func (s *fakeStream) Status() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

func (s *fakeStream) setStatus(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = err
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// fakeDevice opens fresh fakeStreams.
type fakeDevice struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (d *fakeDevice) StartPreview(context.Context, string) (camera.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}

	stream := new(fakeStream)
	d.streams = append(d.streams, stream)

	return stream, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.streams) == 0 {
		return nil
	}

	return d.streams[len(d.streams)-1]
}

func (d *fakeDevice) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.streams)
}

// stuckCaller is a vision sidecar that never answers before the call context ends.
type stuckCaller struct {
	calls atomic.Int32
}

func (c *stuckCaller) Call(ctx context.Context, _ string, _, _ any) error {
	c.calls.Add(1)
	<-ctx.Done()

	return fmt.Errorf("vision call: %w", ctx.Err())
}

// trackResult is one scripted tracker answer.
type trackResult struct {
	faces []detection.FaceRegion
	err   error
}

// fakeTracker answers from a queue, then with its default faces.
type fakeTracker struct {
	mu          sync.Mutex
	queue       []trackResult
	faces       []detection.FaceRegion
	calls       int
	delay       time.Duration
	panics      int
	inFlight    int
	maxInFlight int
	starts      []time.Time
}

func (f *fakeTracker) DetectFaces(context.Context, *camera.Frame) ([]detection.FaceRegion, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.starts = append(f.starts, time.Now())

	if f.panics > 0 {
		f.panics--
		f.inFlight--
		f.mu.Unlock()

		panic("tracker crashed")
	}

	result := trackResult{faces: f.faces}
	if len(f.queue) > 0 {
		result, f.queue = f.queue[0], f.queue[1:]
	}

	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	return result.faces, result.err
}

func (f *fakeTracker) script(results ...trackResult) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queue = append(f.queue, results...)
}

func (f *fakeTracker) setFaces(faces []detection.FaceRegion) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faces = faces
}

func (f *fakeTracker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// fakeDecoder returns a fixed QR payload.
type fakeDecoder struct {
	text string
}

func (f *fakeDecoder) Decode(context.Context, *camera.Frame) (string, bool, error) {
	return f.text, f.text != "", nil
}

// fakeRecognizer records call instants and returns a fixed answer.
type fakeRecognizer struct {
	mu    sync.Mutex
	faces []detection.FaceRecord
	err   error
	calls []time.Time
	ids   []string
}

func (f *fakeRecognizer) PostImage(_ context.Context, deviceID string, _ []byte) ([]detection.FaceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, time.Now())
	f.ids = append(f.ids, deviceID)

	return f.faces, f.err
}

func (f *fakeRecognizer) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]time.Time(nil), f.calls...)
}

// fakeSpeaker records what would have been played.
type fakeSpeaker struct {
	mu            sync.Mutex
	said          []string
	introductions []int
	responses     [][]detection.FaceRecord
	playing       bool
	stops         int
}

var _ speech.Speaker = (*fakeSpeaker)(nil)

func (s *fakeSpeaker) Say(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.said = append(s.said, text)
}

func (s *fakeSpeaker) PlayIntroduction(_ context.Context, faceCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.introductions = append(s.introductions, faceCount)
}

func (s *fakeSpeaker) PlayResponse(_ context.Context, faces []detection.FaceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses = append(s.responses, faces)
	s.playing = true
}

func (s *fakeSpeaker) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.playing
}

func (s *fakeSpeaker) Stop(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playing = false
	s.stops++
}

func (s *fakeSpeaker) setPlaying(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playing = playing
}

func (s *fakeSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.said...)
}

func (s *fakeSpeaker) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stops
}

// memStore is an in-memory IdentityStore.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}

	value, ok := s.values[key]
	if !ok {
		return "", identity.ErrNotFound
	}

	return value, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.values[key] = value

	return nil
}

// fakePublisher keeps published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, *event)

	return nil
}

func (p *fakePublisher) Close() error {
	return nil
}

// visited returns the target states of published transitions.
func (p *fakePublisher) visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var states []string

	for _, e := range p.events {
		if e.Kind == events.KindTransition {
			states = append(states, e.To)
		}
	}

	return states
}

// recognitions returns the published recognition events.
func (p *fakePublisher) recognitions() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []events.Event

	for _, e := range p.events {
		if e.Kind == events.KindRecognition {
			out = append(out, e)
		}
	}

	return out
}

// harness bundles a machine with its fakes.
type harness struct {
	device     *fakeDevice
	frames     *camera.FrameSource
	tracker    *fakeTracker
	decoder    *fakeDecoder
	recognizer *fakeRecognizer
	speaker    *fakeSpeaker
	store      *memStore
	events     *fakePublisher
	phrases    speech.Phrases
	machine    *Machine
}

func newHarness(t *testing.T, policy detection.Policy) *harness {
	t.Helper()

	return newHarnessWithTracker(t, policy, nil)
}

// newHarnessWithTracker uses tracker for face detection instead of the scripted fake.
func newHarnessWithTracker(t *testing.T, policy detection.Policy, tracker vision.FaceTracker) *harness {
	t.Helper()

	h := &harness{
		device:     new(fakeDevice),
		frames:     camera.NewFrameSource(camera.PixelFormatRGBA8, 320, 240),
		tracker:    new(fakeTracker),
		decoder:    new(fakeDecoder),
		recognizer: &fakeRecognizer{faces: []detection.FaceRecord{}},
		speaker:    new(fakeSpeaker),
		store:      newMemStore(),
		events:     new(fakePublisher),
		phrases:    speech.DefaultPhrases(),
	}

	if tracker == nil {
		tracker = h.tracker
	}

	h.machine = NewMachine(Dependencies{
		Camera:     h.device,
		Frames:     h.frames,
		Tracker:    tracker,
		Decoder:    h.decoder,
		Builder:    vision.NewRequestBuilder(200),
		Recognizer: h.recognizer,
		Speaker:    h.speaker,
		Phrases:    h.phrases,
		Identity:   h.store,
		Events:     h.events,
	}, "/dev/video0", policy)

	return h
}

// onboarded stores a device identity.
func (h *harness) onboarded(t *testing.T) {
	t.Helper()

	require.NoError(t, h.store.Set(context.Background(), identity.DeviceIDKey, testDeviceID))
}

// waitingForFaces drives an onboarded machine to WaitingForFaces.
func (h *harness) waitingForFaces(t *testing.T) {
	t.Helper()

	ctx := context.Background()

	h.onboarded(t)
	require.Equal(t, detection.StateStartup, h.machine.Start(ctx))
	h.machine.Tick(ctx)
	require.Equal(t, detection.StateWaitingForFaces, h.machine.State())
}

// ticks runs n ticks.
func (h *harness) ticks(n int) {
	for range n {
		h.machine.Tick(context.Background())
	}
}

func oneFace() []detection.FaceRegion {
	return []detection.FaceRegion{{Bounds: image.Rect(100, 80, 160, 150)}}
}

func testPolicy() detection.Policy {
	return detection.Policy{
		APIInterval:         5 * time.Second,
		FacesDisappearGrace: 2 * time.Second,
		MinReplayDelay:      10 * time.Second,
	}
}
