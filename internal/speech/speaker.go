package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
	"github.com/oshokin/exhibit-kiosk/internal/logger"
)

// ErrEngine reports a speech engine fault.
var ErrEngine = errors.New("speech engine failure")

// DefaultSpeechCommand speaks its last argument.
//
//nolint:gochecknoglobals // Read-only default command line.
var DefaultSpeechCommand = []string{"espeak-ng"}

// Speaker is the speech output collaborator.
type Speaker interface {
	// Say speaks text, interrupting anything currently playing.
	Say(ctx context.Context, text string)
	// PlayIntroduction announces that faceCount visitors are being recognized.
	PlayIntroduction(ctx context.Context, faceCount int)
	// PlayResponse plays the response for recognized faces.
	PlayResponse(ctx context.Context, faces []detection.FaceRecord)
	// IsPlaying reports whether something is being played.
	IsPlaying() bool
	// Stop interrupts the current playback.
	Stop(ctx context.Context)
}

// starter starts a command and returns a wait function.
type starter func(ctx context.Context, name string, args ...string) (wait func() error, err error)

// CommandSpeaker speaks by running an external text-to-speech tool.
// Every utterance is fire-and-forget; a newer one cancels the older.
type CommandSpeaker struct {
	command []string
	phrases Phrases
	start   starter

	// mu protects cancel and generation.
	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
	playing    atomic.Bool
}

// NewCommandSpeaker creates a speaker; an empty command uses DefaultSpeechCommand.
func NewCommandSpeaker(command []string, phrases Phrases) *CommandSpeaker {
	if len(command) == 0 {
		command = DefaultSpeechCommand
	}

	return &CommandSpeaker{
		command: command,
		phrases: phrases,
		start:   startCommand,
	}
}

// Say speaks text in the background.
func (s *CommandSpeaker) Say(ctx context.Context, text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	// The utterance outlives the tick that triggered it.
	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.generation++
	generation := s.generation

	args := append(append([]string(nil), s.command[1:]...), text)

	wait, err := s.start(playCtx, s.command[0], args...)
	if err != nil {
		cancel()
		s.cancel = nil
		s.playing.Store(false)
		logger.ErrorKV(ctx, "Speech output failed", "error", fmt.Errorf("%w: %w", ErrEngine, err))

		return
	}

	s.playing.Store(true)

	go func() {
		waitErr := wait()

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.generation != generation {
			return
		}

		if waitErr != nil && playCtx.Err() == nil {
			logger.WarnKV(ctx, "Speech output ended with error", "error", waitErr)
		}

		s.playing.Store(false)
		s.cancel = nil

		cancel()
	}()
}

// PlayIntroduction announces the recognition attempt.
func (s *CommandSpeaker) PlayIntroduction(ctx context.Context, faceCount int) {
	s.Say(ctx, s.phrases.Introduction(faceCount))
}

// PlayResponse greets the recognized visitors.
func (s *CommandSpeaker) PlayResponse(ctx context.Context, faces []detection.FaceRecord) {
	s.Say(ctx, s.phrases.Greeting(faces))
}

// IsPlaying reports whether an utterance is running.
func (s *CommandSpeaker) IsPlaying() bool {
	return s.playing.Load()
}

// Stop interrupts the current utterance.
func (s *CommandSpeaker) Stop(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.generation++
	s.playing.Store(false)
}

// startCommand is the production starter.
func startCommand(ctx context.Context, name string, args ...string) (func() error, error) {
	//nolint:gosec // The command line comes from operator configuration.
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return cmd.Wait, nil
}
