package kiosk

import (
	"context"
	"errors"

	"github.com/oshokin/exhibit-kiosk/internal/logger"
	"github.com/oshokin/exhibit-kiosk/internal/metrics"
	"github.com/oshokin/exhibit-kiosk/internal/repository/identity"
	"github.com/oshokin/exhibit-kiosk/internal/speech"
)

// Bot is the conversational collaborator.
type Bot interface {
	PostMessage(ctx context.Context, deviceID, text string) (string, error)
	GetReply(ctx context.Context, conversationID string) (string, error)
}

// Conversation answers recognized speech. It runs outside the tick loop and
// never touches DetectionState; it reads the device identity from the store.
type Conversation struct {
	bot       Bot
	speaker   speech.Speaker
	phrases   speech.Phrases
	identity  IdentityStore
	threshold float64
	metrics   *metrics.Recorder
}

// NewConversation creates a handler; phrases under threshold are not sent.
func NewConversation(
	bot Bot,
	speaker speech.Speaker,
	phrases speech.Phrases,
	store IdentityStore,
	threshold float64,
	recorder *metrics.Recorder,
) *Conversation {
	return &Conversation{
		bot:       bot,
		speaker:   speaker,
		phrases:   phrases,
		identity:  store,
		threshold: threshold,
		metrics:   recorder,
	}
}

// Run handles results until the stream ends or ctx is cancelled.
func (c *Conversation) Run(ctx context.Context, results <-chan speech.Recognition) {
	ctx = logger.WithName(ctx, "conversation")

	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-results:
			if !ok {
				logger.Warnf(ctx, "Speech input stopped")
				c.speaker.Say(ctx, c.phrases.SpeechUnavailable)

				return
			}

			c.Handle(ctx, result)
		}
	}
}

// Handle answers a single recognized phrase.
func (c *Conversation) Handle(ctx context.Context, result speech.Recognition) {
	if result.Text == "" {
		return
	}

	if result.Confidence < c.threshold {
		logger.DebugKV(ctx, "Phrase not understood", "confidence", result.Confidence)
		c.speaker.Say(ctx, c.phrases.NotUnderstood)

		return
	}

	reply, err := c.ask(ctx, result.Text)
	if err != nil {
		logger.ErrorKV(ctx, "Conversation failed", "error", err)
		c.metrics.IncConversation(metrics.ResultFailed)
		c.speaker.Say(ctx, c.phrases.BotUnavailable)

		return
	}

	c.metrics.IncConversation(metrics.ResultSuccess)
	c.speaker.Say(ctx, reply)
}

// ask posts the phrase and fetches the reply.
func (c *Conversation) ask(ctx context.Context, text string) (string, error) {
	deviceID, err := c.identity.Get(ctx, identity.DeviceIDKey)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return "", errNotOnboarded
		}

		return "", err
	}

	conversationID, err := c.bot.PostMessage(ctx, deviceID, text)
	if err != nil {
		return "", err
	}

	return c.bot.GetReply(ctx, conversationID)
}

// errNotOnboarded is returned when speech arrives before onboarding.
var errNotOnboarded = errors.New("device is not onboarded")
