package kiosk

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
	"github.com/oshokin/exhibit-kiosk/internal/logger"
)

var (
	// ErrRuntimeStopped is returned by commands issued after the runtime exited.
	ErrRuntimeStopped = errors.New("kiosk runtime stopped")
	// errInvalidInterval is returned for a non-positive tick interval.
	errInvalidInterval = errors.New("tick interval must be positive")
)

// command is a unit of work executed on the runtime goroutine between ticks.
type command struct {
	run  func(ctx context.Context, m *Machine)
	done chan struct{}
}

// Runtime owns the machine and is the Tick Scheduler: a single timer that
// is rearmed only after the tick it fired has fully completed.
type Runtime struct {
	machine *Machine
	// interval is owned by the Run goroutine once Run started.
	interval time.Duration
	commands chan command
	stopped  chan struct{}
}

// NewRuntime creates a runtime ticking every interval.
func NewRuntime(machine *Machine, interval time.Duration) *Runtime {
	return &Runtime{
		machine:  machine,
		interval: interval,
		commands: make(chan command),
		stopped:  make(chan struct{}),
	}
}

// Run ticks until ctx is cancelled. Before returning it drives the machine to
// Idle so the camera is released.
func (r *Runtime) Run(ctx context.Context) {
	defer close(r.stopped)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.safely(ctx, "suspend", func(ctx context.Context) {
				r.machine.Suspend(ctx)
			})

			logger.Info(ctx, "Kiosk runtime stopped")

			return
		case cmd := <-r.commands:
			r.safely(ctx, "command", func(ctx context.Context) {
				cmd.run(ctx, r.machine)
			})
			close(cmd.done)
		case <-timer.C:
			r.safely(ctx, "tick", r.machine.Tick)
			timer.Reset(r.interval)
		}
	}
}

// safely runs fn, recovering panics so that one failing tick never stops the exhibit.
func (r *Runtime) safely(ctx context.Context, what string, fn func(ctx context.Context)) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorKV(ctx, "Recovered from panic",
				"during", what,
				"state", r.machine.State(),
				"panic", recovered,
				"stack", string(debug.Stack()))
		}
	}()

	fn(ctx)
}

// do executes fn on the runtime goroutine and waits for it.
func (r *Runtime) do(ctx context.Context, fn func(ctx context.Context, m *Machine)) error {
	cmd := command{
		run:  fn,
		done: make(chan struct{}),
	}

	select {
	case r.commands <- cmd:
	case <-r.stopped:
		return ErrRuntimeStopped
	case <-ctx.Done():
		return fmt.Errorf("submit command: %w", ctx.Err())
	}

	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for command: %w", ctx.Err())
	}
}

// Start requests the Idle -> Startup transition and returns the resulting state.
func (r *Runtime) Start(ctx context.Context) (detection.State, error) {
	var state detection.State

	err := r.do(ctx, func(ctx context.Context, m *Machine) {
		state = m.Start(ctx)
	})

	return state, err
}

// Suspend drives the machine to Idle and returns once the camera is released.
func (r *Runtime) Suspend(ctx context.Context) (detection.State, error) {
	var state detection.State

	err := r.do(ctx, func(ctx context.Context, m *Machine) {
		state = m.Suspend(ctx)
	})

	return state, err
}

// Status returns a snapshot of the machine.
func (r *Runtime) Status(ctx context.Context) (detection.Status, error) {
	var status detection.Status

	err := r.do(ctx, func(_ context.Context, m *Machine) {
		status = m.Status()
	})

	return status, err
}

// UpdatePolicy applies new timing rules between ticks.
func (r *Runtime) UpdatePolicy(ctx context.Context, policy detection.Policy) error {
	return r.do(ctx, func(ctx context.Context, m *Machine) {
		m.UpdatePolicy(policy)
		logger.InfoKV(ctx, "Timing policy updated",
			"api_interval", policy.APIInterval,
			"faces_disappear_grace", policy.FacesDisappearGrace,
			"min_replay_delay", policy.MinReplayDelay,
			"probe_timeout", policy.ProbeTimeout)
	})
}

// UpdateInterval changes the tick period; it applies when the timer is next rearmed.
func (r *Runtime) UpdateInterval(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", errInvalidInterval, interval)
	}

	return r.do(ctx, func(ctx context.Context, _ *Machine) {
		if r.interval == interval {
			return
		}

		logger.InfoKV(ctx, "Tick interval updated", "from", r.interval, "to", interval)
		r.interval = interval
	})
}

// Done is closed once Run returned.
func (r *Runtime) Done() <-chan struct{} {
	return r.stopped
}
