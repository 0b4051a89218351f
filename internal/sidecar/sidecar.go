// Package sidecar runs a helper process that speaks JSON lines on stdin/stdout.
//
// It backs collaborators the kiosk does not implement itself (face tracking,
// QR decoding, speech recognition). Requests are serialized; responses are
// matched by their "id" field so stale answers after a timeout are skipped.
package sidecar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/oshokin/exhibit-kiosk/internal/logger"
)

//nolint:gochecknoglobals // Shared codec configuration.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// linesBuffer is the number of stdout lines buffered before the reader blocks.
	linesBuffer = 16
	// maxLineBytes bounds one JSON line (base64 frames are large).
	maxLineBytes = 16 << 20
	// stopTimeout is how long Close waits before killing the process.
	stopTimeout = 2 * time.Second
)

var (
	// ErrClosed is returned once the process has exited or was closed.
	ErrClosed = errors.New("sidecar closed")
	// errEmptyCommand is returned when no command line is configured.
	errEmptyCommand = errors.New("sidecar command is empty")
)

// Process is a running JSON-lines helper.
type Process struct {
	name string
	cmd  *exec.Cmd

	// callMu serializes request/response exchanges.
	callMu sync.Mutex
	stdin  io.WriteCloser

	lines  chan []byte
	stop   chan struct{}
	exited chan struct{}
	closed atomic.Bool
}

// Start launches command and begins reading its stdout.
// ctx scopes the helper's lifetime.
func Start(ctx context.Context, name string, command []string) (*Process, error) {
	if len(command) == 0 {
		return nil, errEmptyCommand
	}

	ctx = logger.WithName(ctx, "sidecar."+name)

	//nolint:gosec // The command line comes from operator configuration.
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	p := &Process{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte, linesBuffer),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	readersDone := make(chan struct{}, 2)

	go func() {
		p.readStdout(ctx, stdout)
		readersDone <- struct{}{}
	}()

	go func() {
		logStderr(ctx, stderr)
		readersDone <- struct{}{}
	}()

	go func() {
		<-readersDone
		<-readersDone

		waitErr := cmd.Wait()
		if waitErr != nil && ctx.Err() == nil && !p.closed.Load() {
			logger.ErrorKV(ctx, "Sidecar exited unexpectedly", "error", waitErr)
		}

		close(p.exited)
	}()

	logger.InfoKV(ctx, "Sidecar started", "command", strings.Join(command, " "), "pid", cmd.Process.Pid)

	return p, nil
}

// Lines streams every stdout line; it is closed when the process exits.
// Use it only for helpers that are not driven through Call.
func (p *Process) Lines() <-chan []byte {
	return p.lines
}

// Send writes one JSON line to the helper.
func (p *Process) Send(message any) error {
	if p.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", p.name, err)
	}

	data = append(data, '\n')

	if _, err = p.stdin.Write(data); err != nil {
		return fmt.Errorf("write %s request: %w", p.name, err)
	}

	return nil
}

// Call sends request and decodes the first response line whose "id" equals id.
func (p *Process) Call(ctx context.Context, id string, request, response any) error {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	if err := p.Send(request); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s call: %w", p.name, ctx.Err())
		case line, ok := <-p.lines:
			if !ok {
				return ErrClosed
			}

			var envelope struct {
				ID string `json:"id"`
			}

			if err := json.Unmarshal(line, &envelope); err != nil || envelope.ID != id {
				logger.DebugKV(ctx, "Skipping unrelated sidecar line", "sidecar", p.name, "id", envelope.ID)
				continue
			}

			if err := json.Unmarshal(line, response); err != nil {
				return fmt.Errorf("decode %s response: %w", p.name, err)
			}

			return nil
		}
	}
}

// Done is closed after the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.exited
}

// Close closes stdin, waits briefly for the helper to exit, then kills it.
func (p *Process) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(p.stop)
	_ = p.stdin.Close()

	select {
	case <-p.exited:
		return nil
	case <-time.After(stopTimeout):
	}

	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill %s: %w", p.name, err)
	}

	<-p.exited

	return nil
}

// readStdout forwards stdout lines until EOF.
func (p *Process) readStdout(ctx context.Context, stdout io.Reader) {
	defer close(p.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		select {
		case p.lines <- line:
		case <-p.stop:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		logger.WarnKV(ctx, "Sidecar stdout read failed", "error", err)
	}
}

// logStderr maps helper log lines onto the kiosk log levels.
func logStderr(ctx context.Context, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)

	for scanner.Scan() {
		line := scanner.Text()

		switch upper := strings.ToUpper(line); {
		case strings.Contains(upper, "ERROR"), strings.Contains(upper, "CRITICAL"):
			logger.ErrorKV(ctx, "Sidecar stderr", "line", line)
		case strings.Contains(upper, "WARN"):
			logger.WarnKV(ctx, "Sidecar stderr", "line", line)
		default:
			logger.DebugKV(ctx, "Sidecar stderr", "line", line)
		}
	}
}
