package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	api "github.com/oshokin/exhibit-kiosk/internal/api/grpc/control"
	"github.com/oshokin/exhibit-kiosk/internal/config"
	"github.com/oshokin/exhibit-kiosk/internal/logger"
)

// Action selects the control call to perform.
type Action string

// Supported actions.
const (
	ActionStart   Action = "start"
	ActionSuspend Action = "suspend"
	ActionStatus  Action = "status"
)

// errUnknownAction is returned for actions outside the supported set.
var errUnknownAction = errors.New("unknown action")

// Options configures a single control call.
type Options struct {
	// ConfigPath to YAML settings file, read only when ServerAddress is empty.
	ConfigPath string
	// ServerAddress overrides the control address from config when specified.
	ServerAddress string
	// Action is the call to perform.
	Action Action
	// Output receives the human-readable result, stdout when nil.
	Output io.Writer
}

// Run dials the daemon, performs the action and prints the result.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "kioskctl")

	address, timeout, err := resolveAddress(opts)
	if err != nil {
		return err
	}

	client, err := api.Dial(ctx, address, api.WithCallTimeout(timeout))
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	logger.DebugKV(ctx, "Sending control call", "server_address", address, "action", opts.Action)

	switch opts.Action {
	case ActionStart:
		state, callErr := client.Start(ctx)
		if callErr != nil {
			return callErr
		}

		_, err = fmt.Fprintf(out, "state: %s\n", state)
	case ActionSuspend:
		state, callErr := client.Suspend(ctx)
		if callErr != nil {
			return callErr
		}

		_, err = fmt.Fprintf(out, "state: %s\n", state)
	case ActionStatus:
		report, callErr := client.GetState(ctx)
		if callErr != nil {
			return callErr
		}

		err = writeReport(out, report)
	default:
		return fmt.Errorf("%w: %q", errUnknownAction, opts.Action)
	}

	return err
}

// resolveAddress picks the daemon address and call timeout.
func resolveAddress(opts *Options) (string, time.Duration, error) {
	if opts.ServerAddress != "" {
		return opts.ServerAddress, config.DefaultTimeout, nil
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return "", 0, err
	}

	return cfg.ControlAddress, cfg.Timeout, nil
}

// writeReport renders a state report one field per line.
func writeReport(w io.Writer, r *api.Report) error {
	deviceID := r.DeviceID
	if deviceID == "" {
		deviceID = "<not onboarded>"
	}

	_, err := fmt.Fprintf(w,
		"state: %s\ndevice_id: %s\nfaces_still_present: %t\nface_count: %d\nfaces_found: %d\n"+
			"api_called: %t\nlast_image_api_push: %s\ntime_video_was_stopped: %s\n",
		r.State, deviceID, r.FacesStillPresent, r.FaceCount, r.FacesFound,
		r.APICalled, formatTime(r.LastImageAPIPush), formatTime(r.TimeVideoWasStopped))

	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Format(time.RFC3339)
}
