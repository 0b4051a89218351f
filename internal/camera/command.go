package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Camera commands emit JPEG.
	_ "image/png"  // Some capture tools emit PNG.
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
)

// DeviceToken is replaced by the device selector in capture commands.
const DeviceToken = "{device}"

// DefaultCaptureCommand grabs one MJPEG frame from a V4L2 device.
//
//nolint:gochecknoglobals // Read-only default command line.
var DefaultCaptureCommand = []string{
	"ffmpeg", "-loglevel", "error", "-f", "v4l2", "-i", DeviceToken,
	"-frames:v", "1", "-f", "mjpeg", "-",
}

// errEmptyCommand is returned when no capture command is configured.
var errEmptyCommand = errors.New("capture command is empty")

// captureWaitDelay bounds how long a killed capture may hold its output pipes.
const captureWaitDelay = time.Second

// CommandRunner runs a command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandDevice captures frames by running an external tool per frame.
type CommandDevice struct {
	// command is the capture command line, DeviceToken is substituted.
	command []string
	// run executes the command; tests replace it.
	run CommandRunner
	// stat checks the device node; tests replace it.
	stat func(name string) error
}

// Option configures a CommandDevice.
type Option func(*CommandDevice)

// WithRunner replaces the command runner.
func WithRunner(run CommandRunner) Option {
	return func(d *CommandDevice) {
		if run != nil {
			d.run = run
		}
	}
}

// WithStat replaces the device node check.
func WithStat(stat func(name string) error) Option {
	return func(d *CommandDevice) {
		if stat != nil {
			d.stat = stat
		}
	}
}

// NewCommandDevice creates a device running command for each frame.
// An empty command falls back to DefaultCaptureCommand.
func NewCommandDevice(command []string, opts ...Option) *CommandDevice {
	if len(command) == 0 {
		command = DefaultCaptureCommand
	}

	d := &CommandDevice{
		command: command,
		run:     runCommand,
		stat: func(name string) error {
			_, err := os.Stat(name)

			return err
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// StartPreview checks that the device node exists and returns a stream on it.
//
//nolint:ireturn // Device contract returns the Stream interface.
func (d *CommandDevice) StartPreview(_ context.Context, deviceSelector string) (Stream, error) {
	if len(d.command) == 0 {
		return nil, errEmptyCommand
	}

	if err := d.stat(deviceSelector); err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", deviceSelector, ErrUnavailable, err)
	}

	return &commandStream{device: d, selector: deviceSelector}, nil
}

// commandStream is an open CommandDevice preview.
type commandStream struct {
	device   *CommandDevice
	selector string
	closed   atomic.Bool
}

// Frame runs the capture command and normalizes its output.
func (s *commandStream) Frame(ctx context.Context, format PixelFormat, width, height int) (*Frame, error) {
	if err := s.Status(); err != nil {
		return nil, err
	}

	args := make([]string, 0, len(s.device.command)-1)
	for _, arg := range s.device.command[1:] {
		args = append(args, strings.ReplaceAll(arg, DeviceToken, s.selector))
	}

	output, err := s.device.run(ctx, s.device.command[0], args...)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	decoded, _, err := image.Decode(bytes.NewReader(output))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	img, err := Normalize(decoded, format, width, height)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()

	return &Frame{
		Image:     img,
		Format:    format,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Timestamp: time.Now(),
	}, nil
}

// Status reports ErrUnavailable once the stream is closed or the device node vanished.
func (s *commandStream) Status() error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed: %w", ErrUnavailable)
	}

	if err := s.device.stat(s.selector); err != nil {
		return fmt.Errorf("device %s: %w: %w", s.selector, ErrUnavailable, err)
	}

	return nil
}

// Close marks the stream closed; it is safe to call more than once.
func (s *commandStream) Close() error {
	s.closed.Store(true)

	return nil
}

// Normalize converts img to format, scaling it to width x height when both are positive.
//
//nolint:ireturn // Callers work with image.Image of the requested format.
func Normalize(img image.Image, format PixelFormat, width, height int) (image.Image, error) {
	bounds := img.Bounds()
	if width <= 0 || height <= 0 {
		width, height = bounds.Dx(), bounds.Dy()
	}

	target := image.Rect(0, 0, width, height)

	var dst draw.Image

	switch format {
	case PixelFormatRGBA8:
		dst = image.NewRGBA(target)
	case PixelFormatGray8:
		dst = image.NewGray(target)
	default:
		return nil, fmt.Errorf("%s: %w", format, ErrUnsupportedFormat)
	}

	if target.Dx() == bounds.Dx() && target.Dy() == bounds.Dy() {
		draw.Copy(dst, image.Point{}, img, bounds, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(dst, target, img, bounds, draw.Src, nil)
	}

	return dst, nil
}

// runCommand is the production CommandRunner.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = captureWaitDelay

	output, err := cmd.Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s: %w", name, ctxErr)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	return output, nil
}
