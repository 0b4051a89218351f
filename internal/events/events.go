// Package events publishes state transitions and recognition results of the
// kiosk to NATS so that operators can follow the exhibit remotely.
//
// Subjects are kiosk.<device-id>.transition and kiosk.<device-id>.recognition;
// every event carries a ULID so that consumers can order and deduplicate them.
package events

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
	"github.com/oshokin/exhibit-kiosk/internal/logger"
)

// Kinds of published events.
const (
	KindTransition  = "transition"
	KindRecognition = "recognition"
)

// unregisteredDevice is used in subjects before onboarding completed.
const unregisteredDevice = "unregistered"

//nolint:gochecknoglobals // Shared codec configuration.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is the JSON payload of a published message.
type Event struct {
	// ID is a ULID generated at publication time.
	ID string `json:"id"`
	// Kind is KindTransition or KindRecognition.
	Kind string `json:"kind"`
	// DeviceID is the kiosk identity, empty before onboarding.
	DeviceID string `json:"deviceId,omitempty"`
	// Time is when the event happened.
	Time time.Time `json:"time"`
	// From is the previous state of a transition.
	From string `json:"from,omitempty"`
	// To is the new state of a transition.
	To string `json:"to,omitempty"`
	// RequestID correlates a recognition with its upload.
	RequestID string `json:"requestId,omitempty"`
	// Faces is the recognition result.
	Faces []detection.FaceRecord `json:"faces,omitempty"`
	// Error is the classified failure of a recognition call.
	Error string `json:"error,omitempty"`
}

// Subject returns the NATS subject of the event.
func (e *Event) Subject() string {
	device := e.DeviceID
	if device == "" {
		device = unregisteredDevice
	}

	return fmt.Sprintf("kiosk.%s.%s", device, e.Kind)
}

// Publisher delivers kiosk events. Publishing never blocks the caller on
// network failures for long; errors are reported for logging only.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// IDSource generates monotonic ULIDs.
type IDSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewIDSource creates a ULID generator backed by crypto/rand.
func NewIDSource() *IDSource {
	return &IDSource{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// New returns a ULID for t.
func (s *IDSource) New(t time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}

	return id.String(), nil
}

// conn is the subset of *nats.Conn used by the publisher.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes events to core NATS subjects.
type NATSPublisher struct {
	conn conn
	ids  *IDSource
}

// Dial connects to the NATS server at url.
func Dial(ctx context.Context, url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("exhibit-kiosk"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WarnKV(ctx, "NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.InfoKV(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return newNATSPublisher(nc), nil
}

// newNATSPublisher wraps an established connection.
func newNATSPublisher(c conn) *NATSPublisher {
	return &NATSPublisher{
		conn: c,
		ids:  NewIDSource(),
	}
}

// Publish assigns the event an id and sends it.
func (p *NATSPublisher) Publish(_ context.Context, event *Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	if event.ID == "" {
		id, err := p.ids.New(event.Time)
		if err != nil {
			return err
		}

		event.ID = id
	}

	data, err := codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err = p.conn.Publish(event.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Subject(), err)
	}

	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, *Event) error {
	return nil
}

// Close implements Publisher.
func (Noop) Close() error {
	return nil
}
