package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/oshokin/exhibit-kiosk/internal/camera"
	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
)

const (
	// DefaultJPEGQuality is the upload encoding quality.
	DefaultJPEGQuality = 85
	// cropMarginPercent pads the union of faces so hair and shoulders stay visible.
	cropMarginPercent = 50
)

// RequestBuilder crops, downsizes and JPEG-encodes a frame for upload.
type RequestBuilder struct {
	maxDimension int
	quality      int
}

// NewRequestBuilder creates a builder bounding the longer image side by maxDimension.
// A non-positive maxDimension keeps the cropped size.
func NewRequestBuilder(maxDimension int) *RequestBuilder {
	return &RequestBuilder{
		maxDimension: maxDimension,
		quality:      DefaultJPEGQuality,
	}
}

// Build returns nil when faces is empty: the caller stays in its state.
// Face geometry in the result is expressed in the uploaded image coordinates.
func (b *RequestBuilder) Build(frame *camera.Frame, faces []detection.FaceRegion) (*detection.RequestParameters, error) {
	if frame == nil || frame.Image == nil || len(faces) == 0 {
		return nil, nil //nolint:nilnil // "no payload" is a regular outcome.
	}

	bounds := frame.Image.Bounds()
	crop := padRect(unionOf(faces), cropMarginPercent).Intersect(bounds)

	if crop.Empty() {
		return nil, nil //nolint:nilnil // Faces outside the frame are not a payload.
	}

	width, height := fitWithin(crop.Dx(), crop.Dy(), b.maxDimension)
	target := image.Rect(0, 0, width, height)
	dst := image.NewRGBA(target)

	draw.ApproxBiLinear.Scale(dst, target, frame.Image, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: b.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	scaleX := float64(width) / float64(crop.Dx())
	scaleY := float64(height) / float64(crop.Dy())

	regions := make([]detection.FaceRegion, 0, len(faces))
	for _, face := range faces {
		r := face.Bounds.Intersect(crop).Sub(crop.Min)
		regions = append(regions, detection.FaceRegion{
			Bounds: image.Rect(
				int(float64(r.Min.X)*scaleX), int(float64(r.Min.Y)*scaleY),
				int(float64(r.Max.X)*scaleX), int(float64(r.Max.Y)*scaleY),
			),
		})
	}

	return &detection.RequestParameters{
		Image:     buf.Bytes(),
		Faces:     regions,
		RequestID: uuid.NewString(),
	}, nil
}

// unionOf returns the smallest rectangle covering every face.
func unionOf(faces []detection.FaceRegion) image.Rectangle {
	union := faces[0].Bounds
	for _, face := range faces[1:] {
		union = union.Union(face.Bounds)
	}

	return union
}

// padRect grows r by percent of its size on every side.
func padRect(r image.Rectangle, percent int) image.Rectangle {
	dx := r.Dx() * percent / 100
	dy := r.Dy() * percent / 100

	return image.Rect(r.Min.X-dx, r.Min.Y-dy, r.Max.X+dx, r.Max.Y+dy)
}

// fitWithin scales (w, h) down so the longer side is at most limit.
func fitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}

	if w >= h {
		return limit, max(1, h*limit/w)
	}

	return max(1, w*limit/h), limit
}
