package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultBatchSize = 64

// remoteProvider embeds through any langchaingo EmbedderClient.
type remoteProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	dimension atomic.Int64
}

func newOpenAIProvider(cfg ProviderConfig) (*remoteProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	dim := cfg.Dimension
	if dim == 0 {
		dim = detectDimensionFromModel(cfg.Model)
	}
	return newRemoteProvider(client, cfg.BatchSize, dim)
}

func newRemoteProvider(client lcembeddings.EmbedderClient, batchSize, dimension int) (*remoteProvider, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	embedder, err := lcembeddings.NewEmbedder(client,
		lcembeddings.WithBatchSize(batchSize),
		lcembeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	p := &remoteProvider{embedder: embedder}
	p.dimension.Store(int64(dimension))
	return p, nil
}

// EmbedDocuments returns one vector per text, in input order.
func (p *remoteProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	// the langchaingo embedder strips newlines in place
	vectors, err := p.embedder.EmbedDocuments(ctx, append([]string(nil), texts...))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	p.learnDimension(vectors[0])
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (p *remoteProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	p.learnDimension(vector)
	return vector, nil
}

func (p *remoteProvider) learnDimension(v []float32) {
	if len(v) > 0 {
		p.dimension.CompareAndSwap(0, int64(len(v)))
	}
}

func (p *remoteProvider) Dimension() int {
	return int(p.dimension.Load())
}

// Close is a no-op for HTTP providers.
func (p *remoteProvider) Close() error {
	return nil
}
