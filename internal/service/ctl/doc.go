// Package ctl implements kioskctl: one-shot control commands sent to a
// running kiosk daemon over its gRPC control API.
package ctl
