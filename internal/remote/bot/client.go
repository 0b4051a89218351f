// Package bot is the client of the remote conversational service.
//
// A recognized phrase is posted to {botApiUrl}?deviceid={id}&message={text},
// which answers with a conversation id; the reply is then fetched from
// {botApiUrl}?conversationId={id}.
package bot

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
	"golang.org/x/time/rate"

	"github.com/oshokin/exhibit-kiosk/internal/config"
)

// maxResponseBytes caps the response body read from the service.
const maxResponseBytes = 64 << 10

var (
	// ErrRemote is returned for transport failures and non-2xx statuses.
	ErrRemote = errors.New("bot api failed")
	// ErrEmptyAnswer is returned when the service answered with nothing usable.
	ErrEmptyAnswer = errors.New("bot api returned an empty answer")
	// errEmptyURL is returned when the client has no endpoint configured.
	errEmptyURL = errors.New("bot api url must be provided")
)

//nolint:gochecknoglobals // Shared codec configuration.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to the conversational service.
type Client struct {
	// endpoint is the parsed botApiUrl.
	endpoint *url.URL
	// http performs the requests.
	http *http.Client
	// limiter spaces out calls so a chatty visitor cannot flood the service.
	limiter *rate.Limiter
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

// WithRatePerMinute limits the number of calls per minute; zero disables the limit.
func WithRatePerMinute(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)

			return
		}

		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
}

// New creates a client for the service at rawURL.
func New(rawURL string, opts ...Option) (*Client, error) {
	if rawURL == "" {
		return nil, errEmptyURL
	}

	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse bot api url: %w", err)
	}

	client := &Client{
		endpoint:    endpoint,
		http:        http.DefaultClient,
		callTimeout: config.DefaultTimeout,
	}

	WithRatePerMinute(config.DefaultBotRatePerMinute)(client)

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// PostMessage sends a visitor phrase and returns the conversation id.
func (c *Client) PostMessage(ctx context.Context, deviceID, text string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, url.Values{
		"deviceid": {deviceID},
		"message":  {text},
	})
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}

	return decodeAnswer(body, "conversationId")
}

// GetReply fetches the reply text of a conversation.
func (c *Client) GetReply(ctx context.Context, conversationID string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, url.Values{
		"conversationId": {conversationID},
	})
	if err != nil {
		return "", fmt.Errorf("get reply: %w", err)
	}

	return decodeAnswer(body, "text")
}

// do waits for the limiter and performs one call.
func (c *Client) do(ctx context.Context, method string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	target := *c.endpoint
	query := target.Query()

	for key, values := range params {
		query[key] = values
	}

	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(callCtx, method, target.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

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

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: status %d", ErrRemote, resp.StatusCode)
	}

	return body, nil
}

// decodeAnswer accepts a JSON object carrying field, a JSON string or plain text.
func decodeAnswer(body []byte, field string) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", ErrEmptyAnswer
	}

	var answer string

	switch body[0] {
	case '{':
		answer = codec.Get(body, field).ToString()
	case '"':
		if err := codec.Unmarshal(body, &answer); err != nil {
			return "", fmt.Errorf("decode answer: %w", err)
		}
	default:
		answer = string(body)
	}

	if answer == "" {
		return "", ErrEmptyAnswer
	}

	return answer, nil
}
