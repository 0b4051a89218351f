package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestRecorder_Counts checks counters are labelled and exported.
func TestRecorder_Counts(t *testing.T) {
	t.Parallel()

	r := NewRecorder(prom.NewRegistry())

	r.ObserveTick("WaitingForFaces", 10*time.Millisecond)
	r.ObserveTick("WaitingForFaces", 20*time.Millisecond)
	r.IncTransition("WaitingForFaces", "FaceDetectedOnDevice")
	r.IncAPICall(ResultEmpty)
	r.IncProbeFailure("presence")
	r.IncConversation(ResultSuccess)

	require.InDelta(t, 2, testutil.ToFloat64(r.ticks.WithLabelValues("WaitingForFaces")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.transitions.WithLabelValues("WaitingForFaces", "FaceDetectedOnDevice")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.apiCalls.WithLabelValues(ResultEmpty)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.probeFailures.WithLabelValues("presence")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.conversations.WithLabelValues(ResultSuccess)), 0)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "kiosk_tick_duration_seconds"))
}

// TestRecorder_NilSafe ensures a nil recorder is a no-op.
func TestRecorder_NilSafe(t *testing.T) {
	t.Parallel()

	var r *Recorder

	require.NotPanics(t, func() {
		r.ObserveTick("Idle", time.Second)
		r.IncTransition("Idle", "Startup")
		r.IncAPICall(ResultFailed)
		r.IncProbeFailure("qr")
		r.IncConversation(ResultFailed)
	})
	require.Nil(t, r.Registry())
}
