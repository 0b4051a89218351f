package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/google/uuid"

	"github.com/oshokin/exhibit-kiosk/internal/camera"
	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
)

// Worker operations understood by the vision sidecar.
const (
	opFaces = "faces"
	opQR    = "qr"
)

// errWorker wraps errors reported by the sidecar itself.
var errWorker = errors.New("vision worker error")

// Caller is the request/response part of a sidecar process.
type Caller interface {
	Call(ctx context.Context, id string, request, response any) error
}

// Worker implements FaceTracker and QRDecoder over a JSON-lines sidecar.
type Worker struct {
	caller Caller
}

// NewWorker wraps a running sidecar.
func NewWorker(caller Caller) *Worker {
	return &Worker{caller: caller}
}

// workerRequest is one line sent to the sidecar. Image is base64 in JSON.
type workerRequest struct {
	ID    string `json:"id"`
	Op    string `json:"op"`
	Image []byte `json:"image"`
}

// workerFace is a face rectangle reported by the sidecar.
type workerFace struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// workerResponse is one line received from the sidecar.
type workerResponse struct {
	ID    string       `json:"id"`
	Faces []workerFace `json:"faces"`
	Text  string       `json:"text"`
	Error string       `json:"error"`
}

// DetectFaces asks the sidecar for face rectangles.
func (w *Worker) DetectFaces(ctx context.Context, frame *camera.Frame) ([]detection.FaceRegion, error) {
	response, err := w.call(ctx, opFaces, frame)
	if err != nil {
		return nil, err
	}

	faces := make([]detection.FaceRegion, 0, len(response.Faces))
	for _, f := range response.Faces {
		faces = append(faces, detection.FaceRegion{
			Bounds: image.Rect(f.X, f.Y, f.X+f.Width, f.Y+f.Height),
		})
	}

	return faces, nil
}

// Decode asks the sidecar for a QR payload.
func (w *Worker) Decode(ctx context.Context, frame *camera.Frame) (string, bool, error) {
	response, err := w.call(ctx, opQR, frame)
	if err != nil {
		return "", false, err
	}

	return response.Text, response.Text != "", nil
}

func (w *Worker) call(ctx context.Context, op string, frame *camera.Frame) (*workerResponse, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("%s: empty frame: %w", op, errWorker)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: DefaultJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	request := workerRequest{
		ID:    uuid.NewString(),
		Op:    op,
		Image: buf.Bytes(),
	}

	var response workerResponse
	if err := w.caller.Call(ctx, request.ID, request, &response); err != nil {
		return nil, err
	}

	if response.Error != "" {
		return nil, fmt.Errorf("%s: %s: %w", op, response.Error, errWorker)
	}

	return &response, nil
}
