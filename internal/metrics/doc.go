// Package metrics exposes kiosk counters and histograms to Prometheus.
// A nil *Recorder is valid and records nothing.
package metrics
