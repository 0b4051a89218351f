package vision

import (
	"context"
	"fmt"

	"github.com/oshokin/exhibit-kiosk/internal/camera"
	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
)

// FramePuller hands out one frame per call without blocking on concurrent readers.
// *camera.FrameSource implements it.
type FramePuller interface {
	TryAcquireFrame(ctx context.Context) (*camera.Frame, error)
}

// FaceTracker finds face regions on a frame.
type FaceTracker interface {
	DetectFaces(ctx context.Context, frame *camera.Frame) ([]detection.FaceRegion, error)
}

// QRDecoder decodes a QR code on a frame; ok is false when none was found.
type QRDecoder interface {
	Decode(ctx context.Context, frame *camera.Frame) (text string, ok bool, err error)
}

// PresenceProbe acquires one frame and runs the face tracker on it.
type PresenceProbe struct {
	frames  FramePuller
	tracker FaceTracker
}

// NewPresenceProbe creates a face presence probe.
func NewPresenceProbe(frames FramePuller, tracker FaceTracker) *PresenceProbe {
	return &PresenceProbe{
		frames:  frames,
		tracker: tracker,
	}
}

// Probe returns the frame and the faces detected on it.
// camera.ErrBusy is returned untouched when another read is in flight.
func (p *PresenceProbe) Probe(ctx context.Context) (*camera.Frame, []detection.FaceRegion, error) {
	frame, err := p.frames.TryAcquireFrame(ctx)
	if err != nil {
		return nil, nil, err
	}

	faces, err := p.tracker.DetectFaces(ctx, frame)
	if err != nil {
		return nil, nil, fmt.Errorf("detect faces: %w", err)
	}

	return frame, faces, nil
}

// Present reports whether at least one face is on the current frame.
func (p *PresenceProbe) Present(ctx context.Context) (bool, error) {
	_, faces, err := p.Probe(ctx)
	if err != nil {
		return false, err
	}

	return len(faces) > 0, nil
}

// QRProbe acquires one frame and tries to decode an identity code from it.
type QRProbe struct {
	frames  FramePuller
	decoder QRDecoder
}

// NewQRProbe creates an onboarding QR probe.
func NewQRProbe(frames FramePuller, decoder QRDecoder) *QRProbe {
	return &QRProbe{
		frames:  frames,
		decoder: decoder,
	}
}

// Probe returns the decoded text, or ok=false when no code is visible.
func (p *QRProbe) Probe(ctx context.Context) (string, bool, error) {
	frame, err := p.frames.TryAcquireFrame(ctx)
	if err != nil {
		return "", false, err
	}

	text, ok, err := p.decoder.Decode(ctx, frame)
	if err != nil {
		return "", false, fmt.Errorf("decode qr: %w", err)
	}

	return text, ok, nil
}
