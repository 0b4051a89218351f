package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/exhibit-kiosk/internal/config"
)

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Report is the decoded GetState answer.
type Report struct {
	State               string
	FacesStillPresent   bool
	FaceCount           int
	FacesFound          int
	APICalled           bool
	LastImageAPIPush    time.Time
	TimeVideoWasStopped time.Time
	DeviceID            string
}

// Client wraps a connection to the control service.
type Client struct {
	// conn is the underlying gRPC connection to the kiosk daemon.
	conn *grpc.ClientConn
	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// Dial creates a client for the daemon at address. The daemon listens on
// loopback by default, so the transport is insecure.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial kiosk daemon: %w", err)
	}

	client := &Client{
		conn:        conn,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Start asks the kiosk to leave Idle and returns the resulting state.
func (c *Client) Start(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, StartMethod, out); err != nil {
		return "", fmt.Errorf("start: %w", err)
	}

	return out.GetValue(), nil
}

// Suspend asks the kiosk to go Idle and returns the resulting state.
func (c *Client) Suspend(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, SuspendMethod, out); err != nil {
		return "", fmt.Errorf("suspend: %w", err)
	}

	return out.GetValue(), nil
}

// GetState fetches the current detection state.
func (c *Client) GetState(ctx context.Context) (*Report, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, GetStateMethod, out); err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}

	return reportFromStruct(out), nil
}

// invoke performs a unary call with the default timeout.
func (c *Client) invoke(ctx context.Context, method string, out any) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	return c.conn.Invoke(callCtx, method, new(emptypb.Empty), out)
}

// callContext applies the default timeout unless ctx already has a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// reportFromStruct decodes the GetState answer; unknown fields are ignored.
func reportFromStruct(s *structpb.Struct) *Report {
	fields := s.GetFields()

	return &Report{
		State:               fields[FieldState].GetStringValue(),
		FacesStillPresent:   fields[FieldFacesStillPresent].GetBoolValue(),
		FaceCount:           int(fields[FieldFaceCount].GetNumberValue()),
		FacesFound:          int(fields[FieldFacesFound].GetNumberValue()),
		APICalled:           fields[FieldAPICalled].GetBoolValue(),
		LastImageAPIPush:    parseTime(fields[FieldLastImageAPIPush].GetStringValue()),
		TimeVideoWasStopped: parseTime(fields[FieldTimeVideoWasStopped].GetStringValue()),
		DeviceID:            fields[FieldDeviceID].GetStringValue(),
	}
}

// parseTime is the inverse of formatTime; malformed values become the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}

	return t
}
