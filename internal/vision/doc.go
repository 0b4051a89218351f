// Package vision turns camera frames into the signals the state machine needs:
// face presence, decoded onboarding QR codes and recognition request payloads.
//
// Face tracking and QR decoding themselves are delegated to collaborators
// (FaceTracker, QRDecoder); Worker implements both over a sidecar process.
package vision
