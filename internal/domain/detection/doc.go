// Package detection contains the core domain model of the exhibit:
// the detection State enum, the single mutable DetectionState owned by the
// state machine, face geometry and recognition records, the timing Policy
// behind the throttle gate, and the pure transition table.
package detection
