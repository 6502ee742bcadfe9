package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/docqa/internal/config"
)

// scriptedModel returns the queued errors first, then reply.
type scriptedModel struct {
	mu      sync.Mutex
	errs    []error
	reply   *llms.ContentResponse
	calls   int
	lastOps llms.CallOptions
	lastMsg []llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastMsg = msgs
	m.lastOps = llms.CallOptions{}
	for _, o := range options {
		o(&m.lastOps)
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return m.reply, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func textReply(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func TestComplete(t *testing.T) {
	m := &scriptedModel{reply: textReply("42")}
	c := NewClient(m)

	out, err := c.Complete(context.Background(), "what is 6*7")
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	require.Len(t, m.lastMsg, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.lastMsg[0].Role)
	assert.Equal(t, llms.TextContent{Text: "what is 6*7"}, m.lastMsg[0].Parts[0])
	assert.Equal(t, 0.0, m.lastOps.Temperature)
	assert.Empty(t, m.lastOps.Tools)
}

func TestGenerate_PassesTools(t *testing.T) {
	m := &scriptedModel{reply: textReply("ok")}
	c := NewClient(m)

	tools := []llms.Tool{{
		Type:     "function",
		Function: &llms.FunctionDefinition{Name: "document_search"},
	}}
	_, err := c.Generate(context.Background(), nil, tools)
	require.NoError(t, err)
	assert.Equal(t, tools, m.lastOps.Tools)
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	m := &scriptedModel{
		errs: []error{
			errors.New("API returned unexpected status code: 429: too many requests"),
			errors.New("API returned unexpected status code: 503: service unavailable"),
		},
		reply: textReply("done"),
	}
	c := NewClient(m, WithMaxRetries(3), WithBackoff(time.Millisecond))

	out, err := c.Complete(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 3, m.calls)
}

func TestGenerate_DoesNotRetryPermanentErrors(t *testing.T) {
	m := &scriptedModel{
		errs:  []error{errors.New("API returned unexpected status code: 401: invalid api key")},
		reply: textReply("unreachable"),
	}
	c := NewClient(m, WithMaxRetries(3), WithBackoff(time.Millisecond))

	_, err := c.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, llms.IsAuthenticationError(err))
	assert.Equal(t, 1, m.calls)
}

func TestGenerate_MaxRetriesExceeded(t *testing.T) {
	rateLimited := errors.New("rate limit reached")
	m := &scriptedModel{errs: []error{rateLimited, rateLimited, rateLimited}}
	c := NewClient(m, WithMaxRetries(2), WithBackoff(time.Millisecond))

	_, err := c.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.ErrorIs(t, err, rateLimited)
	assert.Equal(t, 3, m.calls)
}

func TestGenerate_EmptyResponsePassesThrough(t *testing.T) {
	for _, reply := range []*llms.ContentResponse{nil, {}, {Choices: []*llms.ContentChoice{nil}}} {
		c := NewClient(&scriptedModel{reply: reply})
		resp, err := c.Generate(context.Background(), nil, nil)
		require.NoError(t, err)
		require.NotNil(t, resp)

		_, err = c.Complete(context.Background(), "q")
		assert.ErrorIs(t, err, ErrEmptyResponse)
	}
}

func TestGenerate_CancelledContext(t *testing.T) {
	m := &scriptedModel{reply: textReply("x")}
	c := NewClient(m, WithRateLimit(0.001, 1))

	// drain the single burst token
	_, err := c.Complete(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Complete(ctx, "second")
	require.Error(t, err)
	assert.Equal(t, 1, m.calls)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr bool
	}{
		{"openai", config.LLMConfig{Provider: "openai", APIKey: config.Secret("sk-test")}, false},
		{"default provider", config.LLMConfig{APIKey: config.Secret("sk-test"), BaseURL: "http://localhost:9999/v1"}, false},
		{"openai without key", config.LLMConfig{Provider: "openai"}, true},
		{"anthropic without key", config.LLMConfig{Provider: "anthropic"}, true},
		{"unknown provider", config.LLMConfig{Provider: "carrier-pigeon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "openai", c.provider)
		})
	}
}
