// Package llm is a client for OpenAI-compatible chat completion endpoints,
// with optional server-sent-event streaming.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

// Message is a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Options are per-request parameters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// Option overrides a request parameter.
type Option func(*Options)

func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

func WithTemperature(temp float64) Option {
	return func(o *Options) { o.Temperature = temp }
}

func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

func WithStream(stream bool) Option {
	return func(o *Options) { o.Stream = stream }
}

// Config configures a Client.
type Config struct {
	// Endpoint is the API base URL; "/chat/completions" is appended.
	Endpoint    string
	Token       string
	Model       string
	Temperature float64
	MaxTokens   int
	Stream      bool
	// MaxRetries bounds retries of retryable failures when opening a request.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	HTTPClient   *http.Client
}

// Client talks to one completion endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a Client. Timeouts are left to the caller's context.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 8 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: hc, logger: logger.Named("llm")}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Open sends messages and returns a Stream of the response. Failures to
// connect, 429 and 5xx responses are retried with exponential backoff; other
// error statuses fail immediately with EndpointRejected. Once Open returns,
// nothing is retried.
//
// When ctx ends, the error returned is context.Cause(ctx).
func (c *Client) Open(ctx context.Context, messages []Message, options ...Option) (*Stream, error) {
	opts := Options{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      c.cfg.Stream,
	}
	for _, o := range options {
		o(&opts)
	}

	body, err := json.Marshal(chatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Stream:      opts.Stream,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, failure.Wrap(failure.Internal, "marshal request", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialDelay
	b.MaxInterval = c.cfg.MaxDelay

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		attempt++
		return c.send(ctx, body)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("completion request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, err
	}

	c.logger.Debug("completion stream opened",
		zap.String("model", opts.Model),
		zap.Int("messages", len(messages)),
		zap.Int("attempts", attempt),
	)

	if opts.Stream && strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return newSSEStream(ctx, resp.Body), nil
	}
	return newSingleStream(ctx, resp.Body)
}

// send performs one request. Errors that must not be retried are wrapped in
// backoff.Permanent.
func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(failure.Wrap(failure.Internal, "create request", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(context.Cause(ctx))
		}
		return nil, failure.Wrap(failure.EndpointUnreachable, "request failed", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	err = statusError(resp.StatusCode, raw)
	if failure.KindOf(err).Retryable() {
		return nil, err
	}
	return nil, backoff.Permanent(err)
}

// statusError classifies a non-2xx response. 429 and 5xx are transient;
// every other status is a rejection of the request itself.
func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var parsed chatResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}
	text := fmt.Sprintf("endpoint returned HTTP %d", status)
	if msg != "" {
		text += ": " + msg
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return failure.New(failure.EndpointUnreachable, text)
	}
	return failure.New(failure.EndpointRejected, text)
}

// Chat sends messages and returns the full response text.
func (c *Client) Chat(ctx context.Context, messages []Message, options ...Option) (string, error) {
	s, err := c.Open(ctx, messages, options...)
	if err != nil {
		return "", err
	}
	defer s.Close()
	return s.Collect()
}

// Ping checks that the endpoint accepts the configured credentials and
// model with a minimal non-streaming request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Chat(ctx, []Message{{Role: "user", Content: "ping"}}, WithMaxTokens(1), WithStream(false))
	return err
}
