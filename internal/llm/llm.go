// Package llm wraps a langchaingo chat model with rate limiting, retries and
// per-request timeouts. The agent loop and the math tool share one Client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docqa/internal/config"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultOllamaModel    = "llama3.1"

	defaultBurst       = 5
	defaultTimeout     = 60 * time.Second
	defaultBaseBackoff = time.Second
	maxBackoffExponent = 5
)

var (
	// ErrInvalidConfig is returned for unusable provider settings.
	ErrInvalidConfig = errors.New("invalid llm config")

	// ErrEmptyResponse is returned by Complete when the model produced no choices.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Client calls a chat model. Requests are deterministic (temperature 0).
type Client struct {
	model      llms.Model
	provider   string
	limiter    *rate.Limiter
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit limits requests per second. A non-positive limit disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = defaultBurst
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxRetries sets how many times rate limit and provider outage errors are retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout bounds each model request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff sets the base delay between retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithProvider names the backend for error classification and logs.
func WithProvider(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.provider = name
		}
	}
}

// NewClient wraps an existing model.
func NewClient(model llms.Model, opts ...Option) *Client {
	c := &Client{
		model:    model,
		provider: "custom",
		timeout:  defaultTimeout,
		backoff:  defaultBaseBackoff,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New builds a Client for the configured provider.
func New(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}

	return NewClient(model,
		WithProvider(provider),
		WithRateLimit(cfg.RateLimit, cfg.Burst),
		WithMaxRetries(cfg.MaxRetries),
		WithTimeout(cfg.RequestTimeout),
		WithLogger(logger),
	), nil
}

func newModel(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "", "openai":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w: openai api key required", ErrInvalidConfig)
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey.Value()),
			openai.WithModel(orDefault(cfg.Model, defaultOpenAIModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		return m, nil

	case "anthropic":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w: anthropic api key required", ErrInvalidConfig)
		}
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey.Value()),
			anthropic.WithModel(orDefault(cfg.Model, defaultAnthropicModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		m, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic client: %w", err)
		}
		return m, nil

	case "ollama":
		opts := []ollama.Option{ollama.WithModel(orDefault(cfg.Model, defaultOllamaModel))}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		m, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Complete sends a single prompt and returns the text of the first choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Generate(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, nil)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// Generate sends a conversation with optional tool definitions. A reply
// without choices is returned as an empty, non-nil response so the caller
// can ask the model again.
func (c *Client) Generate(ctx context.Context, messages []llms.MessageContent, tools []llms.Tool) (*llms.ContentResponse, error) {
	opts := []llms.CallOption{llms.WithTemperature(0)}
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(tools))
	}

	start := time.Now()
	resp, err := c.withRetry(ctx, func(ctx context.Context) (*llms.ContentResponse, error) {
		return c.model.GenerateContent(ctx, messages, opts...)
	})
	requestDuration.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(c.provider, "error").Inc()
		return nil, err
	}
	if resp == nil {
		resp = &llms.ContentResponse{}
	}
	if len(resp.Choices) == 0 || resp.Choices[0] == nil {
		requestsTotal.WithLabelValues(c.provider, "empty").Inc()
		return resp, nil
	}
	requestsTotal.WithLabelValues(c.provider, "ok").Inc()
	return resp, nil
}

func (c *Client) withRetry(ctx context.Context, call func(context.Context) (*llms.ContentResponse, error)) (*llms.ContentResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			exp := attempt - 1
			if exp > maxBackoffExponent {
				exp = maxBackoffExponent
			}
			backoff := c.backoff * time.Duration(1<<exp)
			c.logger.Debug("retrying model request",
				zap.String("provider", c.provider),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		resp, err := c.callOnce(ctx, call)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = llms.NewErrorMapper(c.provider).WrapError(err)
		if !isRetryableError(lastErr) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) callOnce(ctx context.Context, call func(context.Context) (*llms.ContentResponse, error)) (*llms.ContentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return call(ctx)
}

// isRetryableError reports throttling and provider outages.
func isRetryableError(err error) bool {
	return llms.IsRateLimitError(err) || llms.IsProviderUnavailableError(err)
}
