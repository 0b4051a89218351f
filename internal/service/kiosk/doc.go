// Package kiosk runs the exhibit: the detection state machine, the tick
// scheduler that drives it, the conversation handler fed by speech input and
// the daemon wiring around them.
//
// All DetectionState mutation happens on the Runtime goroutine. External
// callers (control API, operating-hours jobs, config reload) reach the
// machine through Runtime commands, which are executed between ticks.
package kiosk
