package faceapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/oshokin/exhibit-kiosk/internal/config"
	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
)

const (
	// contentType is the content type of the uploaded image.
	contentType = "application/octet-stream"
	// maxResponseBytes caps the response body read from the service.
	maxResponseBytes = 1 << 20
	// maxErrorBodyBytes caps the response body quoted in errors.
	maxErrorBodyBytes = 256
)

var (
	// ErrBadRequest is returned when the service rejected the request as malformed (HTTP 400).
	ErrBadRequest = errors.New("face api rejected the request")
	// ErrRemote is returned for every other non-2xx status.
	ErrRemote = errors.New("face api failed")
	// errEmptyURL is returned when the client has no endpoint configured.
	errEmptyURL = errors.New("face api url must be provided")
	// errEmptyDeviceID is returned when the caller passes no device identity.
	errEmptyDeviceID = errors.New("device id must be provided")
)

//nolint:gochecknoglobals // Shared codec configuration.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Classification names the failure class for logs and metrics.
const (
	ClassificationBadRequest = "bad_request"
	ClassificationOther      = "other"
)

// Classify maps a PostImage error to its log classification.
func Classify(err error) string {
	if errors.Is(err, ErrBadRequest) {
		return ClassificationBadRequest
	}

	return ClassificationOther
}

// Client posts images to the recognition service.
type Client struct {
	// endpoint is the parsed faceApiUrl.
	endpoint *url.URL
	// http performs the requests.
	http *http.Client
	// callTimeout bounds a single call.
	callTimeout time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.http = c
		}
	}
}

// WithCallTimeout sets a per-call timeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// New creates a client for the service at rawURL.
func New(rawURL string, opts ...Option) (*Client, error) {
	if rawURL == "" {
		return nil, errEmptyURL
	}

	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse face api url: %w", err)
	}

	client := &Client{
		endpoint:    endpoint,
		http:        http.DefaultClient,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// PostImage uploads the image and returns the faces recognized on it.
// An empty slice is a valid "no faces" answer.
func (c *Client) PostImage(ctx context.Context, deviceID string, image []byte) ([]detection.FaceRecord, error) {
	if deviceID == "" {
		return nil, errEmptyDeviceID
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	target := *c.endpoint
	query := target.Query()
	query.Set("deviceid", deviceID)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, target.String(), bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("build face api request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemote, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrRemote, err)
	}

	if err = statusError(resp.StatusCode, body); err != nil {
		return nil, err
	}

	faces := make([]detection.FaceRecord, 0)
	if len(bytes.TrimSpace(body)) == 0 {
		return faces, nil
	}

	if err = codec.Unmarshal(body, &faces); err != nil {
		return nil, fmt.Errorf("%w: decode faces: %w", ErrRemote, err)
	}

	if faces == nil {
		faces = make([]detection.FaceRecord, 0)
	}

	return faces, nil
}

// statusError classifies a non-2xx status.
func statusError(status int, body []byte) error {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return nil
	}

	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}

	if status == http.StatusBadRequest {
		return fmt.Errorf("%w: status %d: %s", ErrBadRequest, status, bytes.TrimSpace(body))
	}

	return fmt.Errorf("%w: status %d: %s", ErrRemote, status, bytes.TrimSpace(body))
}
