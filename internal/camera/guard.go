package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// FrameSource wraps the active stream with a single-slot, non-blocking guard.
type FrameSource struct {
	// slot has capacity 1; holding a token means a read is in flight.
	slot chan struct{}

	// mu protects stream.
	mu     sync.RWMutex
	stream Stream

	format PixelFormat
	width  int
	height int
	seq    atomic.Uint64
}

// NewFrameSource creates a guard producing frames of the given format and size.
func NewFrameSource(format PixelFormat, width, height int) *FrameSource {
	return &FrameSource{
		slot:   make(chan struct{}, 1),
		format: format,
		width:  width,
		height: height,
	}
}

// Attach installs the stream frames are read from, returning the previous one.
func (f *FrameSource) Attach(stream Stream) Stream {
	f.mu.Lock()
	defer f.mu.Unlock()

	previous := f.stream
	f.stream = stream

	return previous
}

// Detach removes and returns the current stream.
func (f *FrameSource) Detach() Stream {
	return f.Attach(nil)
}

// Attached reports whether a stream is installed.
func (f *FrameSource) Attached() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.stream != nil
}

// Status reports the health of the attached stream.
func (f *FrameSource) Status() error {
	f.mu.RLock()
	stream := f.stream
	f.mu.RUnlock()

	if stream == nil {
		return fmt.Errorf("no stream attached: %w", ErrUnavailable)
	}

	return stream.Status()
}

// TryAcquireFrame reads exactly one frame unless another read holds the guard,
// in which case it returns ErrBusy immediately. The guard is released on every
// exit path of a read this call started.
func (f *FrameSource) TryAcquireFrame(ctx context.Context) (*Frame, error) {
	select {
	case f.slot <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	defer func() {
		<-f.slot
	}()

	f.mu.RLock()
	stream := f.stream
	f.mu.RUnlock()

	if stream == nil {
		return nil, fmt.Errorf("no stream attached: %w", ErrUnavailable)
	}

	frame, err := stream.Frame(ctx, f.format, f.width, f.height)
	if err != nil {
		return nil, fmt.Errorf("get frame: %w", err)
	}

	frame.Seq = f.seq.Add(1)

	return frame, nil
}
