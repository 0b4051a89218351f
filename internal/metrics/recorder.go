package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "kiosk"

// Result labels shared by the call counters.
const (
	ResultSuccess = "success"
	ResultEmpty   = "empty"
	ResultFailed  = "failed"
)

// Recorder records state machine and collaborator metrics.
type Recorder struct {
	registry      *prom.Registry
	ticks         *prom.CounterVec
	tickDuration  prom.Histogram
	transitions   *prom.CounterVec
	apiCalls      *prom.CounterVec
	probeFailures *prom.CounterVec
	conversations *prom.CounterVec
}

// NewRecorder creates the metrics and registers them on reg, or on a new
// registry with the Go and process collectors when reg is nil.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(
			promcollect.NewGoCollector(),
			promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}),
		)
	}

	r := &Recorder{
		registry: reg,
		ticks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Processed ticks by the state they started in",
		}, []string{"state"}),
		tickDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a single state machine tick",
			Buckets:   prom.DefBuckets,
		}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State transitions",
		}, []string{"from", "to"}),
		apiCalls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "api_calls_total",
			Help:      "Remote recognition calls by result",
		}, []string{"result"}),
		probeFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Failed camera probes by probe kind",
		}, []string{"probe"}),
		conversations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Conversational exchanges by result",
		}, []string{"result"}),
	}

	reg.MustRegister(r.ticks, r.tickDuration, r.transitions, r.apiCalls, r.probeFailures, r.conversations)

	return r
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}

	return r.registry
}

// ObserveTick records one tick started in state.
func (r *Recorder) ObserveTick(state string, d time.Duration) {
	if r == nil {
		return
	}

	r.ticks.WithLabelValues(state).Inc()
	r.tickDuration.Observe(d.Seconds())
}

// IncTransition records a state change.
func (r *Recorder) IncTransition(from, to string) {
	if r == nil {
		return
	}

	r.transitions.WithLabelValues(from, to).Inc()
}

// IncAPICall records a remote recognition call result.
func (r *Recorder) IncAPICall(result string) {
	if r == nil {
		return
	}

	r.apiCalls.WithLabelValues(result).Inc()
}

// IncProbeFailure records a failed probe.
func (r *Recorder) IncProbeFailure(probe string) {
	if r == nil {
		return
	}

	r.probeFailures.WithLabelValues(probe).Inc()
}

// IncConversation records a conversational exchange result.
func (r *Recorder) IncConversation(result string) {
	if r == nil {
		return
	}

	r.conversations.WithLabelValues(result).Inc()
}
