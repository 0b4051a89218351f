package detection

import "time"

// Policy holds the timing rules of the throttle gate and the disappearance debounce.
type Policy struct {
	// APIInterval is the minimum time between two remote recognition calls.
	APIInterval time.Duration
	// FacesDisappearGrace is the delay between the two negative presence probes.
	FacesDisappearGrace time.Duration
	// MinReplayDelay is the cool-down after playback stopped before a new call.
	MinReplayDelay time.Duration
	// ProbeTimeout bounds one frame probe; zero leaves probes unbounded.
	ProbeTimeout time.Duration
}

// GateOpen reports whether a remote recognition call may be issued at now.
// Both the call cadence and the replay cool-down must have elapsed.
func (p Policy) GateOpen(now time.Time, d *DetectionState) bool {
	return elapsed(now, d.LastImageAPIPush) >= p.APIInterval &&
		elapsed(now, d.TimeVideoWasStopped) >= p.MinReplayDelay
}

// elapsed returns now-since, treating the zero time as "long ago".
func elapsed(now, since time.Time) time.Duration {
	if since.IsZero() {
		return time.Duration(1<<63 - 1)
	}

	return now.Sub(since)
}
