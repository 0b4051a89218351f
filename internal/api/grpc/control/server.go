package control

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
)

// State report field names.
const (
	FieldState               = "state"
	FieldFacesStillPresent   = "faces_still_present"
	FieldFaceCount           = "face_count"
	FieldFacesFound          = "faces_found"
	FieldAPICalled           = "api_called"
	FieldLastImageAPIPush    = "last_image_api_push"
	FieldTimeVideoWasStopped = "time_video_was_stopped"
	FieldDeviceID            = "device_id"
)

// Service abstracts the kiosk operations the transport layer depends on.
type Service interface {
	Start(ctx context.Context) (detection.State, error)
	Suspend(ctx context.Context) (detection.State, error)
	Status(ctx context.Context) (detection.Status, error)
}

// Server implements ControlServer.
type Server struct {
	// service runs the commands on the kiosk runtime.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// Start moves an Idle kiosk to Startup.
func (s *Server) Start(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	state, err := s.service.Start(ctx)
	if err != nil {
		return nil, serviceError(err)
	}

	return wrapperspb.String(state.String()), nil
}

// Suspend drives the kiosk to Idle.
func (s *Server) Suspend(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	state, err := s.service.Suspend(ctx)
	if err != nil {
		return nil, serviceError(err)
	}

	return wrapperspb.String(state.String()), nil
}

// GetState reports the detection state.
func (s *Server) GetState(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.service.Status(ctx)
	if err != nil {
		return nil, serviceError(err)
	}

	report, err := structpb.NewStruct(map[string]any{
		FieldState:               st.State.String(),
		FieldFacesStillPresent:   st.FacesStillPresent,
		FieldFaceCount:           st.FaceCount,
		FieldFacesFound:          st.FacesFound,
		FieldAPICalled:           st.APICalled,
		FieldLastImageAPIPush:    formatTime(st.LastImageAPIPush),
		FieldTimeVideoWasStopped: formatTime(st.TimeVideoWasStopped),
		FieldDeviceID:            st.DeviceID,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode state")
	}

	return report, nil
}

// serviceError maps a runtime error to a gRPC status. Context errors keep
// their own code so an expired caller deadline is not reported as a dead runtime.
func serviceError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return status.FromContextError(err).Err()
	}

	return status.Error(codes.Unavailable, "kiosk runtime is not running")
}

// formatTime renders t as RFC 3339, the zero time as an empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}
