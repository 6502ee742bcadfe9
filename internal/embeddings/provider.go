package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates an unusable provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed wraps failures reported by the embedding backend.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known output dimension.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	// Zero means the dimension is learned from the first response.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of "openai", "tei" or "fastembed".
	Provider string
	Model    string
	// BaseURL overrides the API endpoint. For TEI it is the server root.
	BaseURL string
	APIKey  string
	// CacheDir is the model cache directory (fastembed only).
	CacheDir  string
	BatchSize int
	// Dimension overrides model-based dimension detection.
	Dimension int
}

// ConfigFromSettings maps the application config onto a ProviderConfig.
func ConfigFromSettings(s config.EmbeddingsConfig) ProviderConfig {
	return ProviderConfig{
		Provider:  s.Provider,
		Model:     s.Model,
		BaseURL:   s.BaseURL,
		APIKey:    s.APIKey.Value(),
		CacheDir:  s.CacheDir,
		BatchSize: s.BatchSize,
		Dimension: s.Dimension,
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "openai", "":
		p, err = newOpenAIProvider(cfg)
	case "tei":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: tei requires base_url", ErrInvalidConfig)
		}
		cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/v1"
		if cfg.APIKey == "" {
			// TEI ignores the key but the client refuses to start without one.
			cfg.APIKey = "placeholder"
		}
		p, err = newOpenAIProvider(cfg)
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()))

	return Instrument(p, cfg.Model, NewMetrics(logger)), nil
}

// detectDimensionFromModel returns the embedding dimension for a model name,
// or 0 when the model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch model {
	case "text-embedding-ada-002", "text-embedding-3-small":
		return 1536
	case "text-embedding-3-large":
		return 3072
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"):
		return 768
	case strings.Contains(m, "small"), strings.Contains(m, "mini"):
		return 384
	default:
		return 0
	}
}
