package camera

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrUnavailable reports a missing, disconnected or disabled camera.
	ErrUnavailable = errors.New("camera unavailable")
	// ErrBusy reports that another frame read is in flight.
	ErrBusy = errors.New("frame source busy")
	// ErrUnsupportedFormat reports a pixel format the device cannot produce.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// PixelFormat is the in-memory layout of frame pixels.
type PixelFormat int

const (
	// PixelFormatRGBA8 stores frames as *image.RGBA.
	PixelFormatRGBA8 PixelFormat = iota
	// PixelFormatGray8 stores frames as *image.Gray.
	PixelFormatGray8
)

// String returns the format name for logs.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA8:
		return "rgba8"
	case PixelFormatGray8:
		return "gray8"
	default:
		return "unknown"
	}
}

// Frame is a single picture pulled from the camera.
type Frame struct {
	// Image holds the pixels in Format.
	Image image.Image
	// Format is the pixel layout of Image.
	Format PixelFormat
	// Width of the frame in pixels.
	Width int
	// Height of the frame in pixels.
	Height int
	// Timestamp is when the frame was captured.
	Timestamp time.Time
	// Seq is assigned by the FrameSource, monotonically increasing.
	Seq uint64
}

// Device opens camera streams.
type Device interface {
	// StartPreview opens the camera selected by deviceSelector and begins streaming.
	StartPreview(ctx context.Context, deviceSelector string) (Stream, error)
}

// Stream is an open camera preview.
type Stream interface {
	// Frame pulls one frame in the requested format and size.
	Frame(ctx context.Context, format PixelFormat, width, height int) (*Frame, error)
	// Status returns an error wrapping ErrUnavailable once the camera is gone.
	Status() error
	// Close stops streaming and releases the hardware.
	Close() error
}
