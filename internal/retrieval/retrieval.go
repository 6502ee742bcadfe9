// Package retrieval turns a question into a page-cited context block.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/reranker"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

var (
	// ErrRetrieval wraps every retrieval failure.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrEmptyIndex is returned when nothing has been uploaded yet.
	ErrEmptyIndex = errors.New("index is empty")
)

// NoRelevantInformation is returned by Retrieve when no chunk survives filtering.
const NoRelevantInformation = "No relevant information was found in the uploaded document."

const defaultTopK = 5

var tracer = otel.Tracer("docqa.retrieval")

var queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docqa",
	Subsystem: "retrieval",
	Name:      "queries_total",
	Help:      "Total number of retrieval queries by result (hit, miss, error)",
}, []string{"result"})

// QueryEmbedder embeds a search query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of the vector store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]vectorstore.SearchResult, error)
	Count(ctx context.Context) (int, error)
}

// PageResult is the text retrieved from one page.
type PageResult struct {
	// Page is the page label from metadata; empty when missing.
	Page string
	Text string
}

// Config controls retrieval.
type Config struct {
	// TopK is the number of chunks fed into the result.
	TopK int
	// MinScore drops chunks below this similarity. Zero keeps everything.
	MinScore float32
	// Candidates is how many chunks to fetch before reranking.
	// Ignored without a reranker.
	Candidates int
}

// Retriever embeds queries, searches the store and formats the hits.
type Retriever struct {
	embedder QueryEmbedder
	store    Searcher
	reranker reranker.Reranker
	config   Config
	logger   *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithReranker reorders a larger candidate set before truncating to TopK.
func WithReranker(r reranker.Reranker) Option {
	return func(rt *Retriever) { rt.reranker = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(rt *Retriever) {
		if l != nil {
			rt.logger = l
		}
	}
}

// New creates a Retriever.
func New(embedder QueryEmbedder, store Searcher, cfg Config, opts ...Option) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.Candidates < cfg.TopK {
		cfg.Candidates = cfg.TopK
	}
	r := &Retriever{
		embedder: embedder,
		store:    store,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns the formatted context for query, or NoRelevantInformation
// when nothing relevant was found.
func (r *Retriever) Retrieve(ctx context.Context, query string) (string, error) {
	pages, err := r.Search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return NoRelevantInformation, nil
	}
	return Format(pages), nil
}

// Search returns hits grouped by page and sorted by page number.
func (r *Retriever) Search(ctx context.Context, query string) (pages []PageResult, err error) {
	ctx, span := tracer.Start(ctx, "Retriever.Search")
	defer span.End()
	defer func() {
		switch {
		case err != nil:
			queriesTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case len(pages) == 0:
			queriesTotal.WithLabelValues("miss").Inc()
		default:
			queriesTotal.WithLabelValues("hit").Inc()
		}
	}()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrRetrieval)
	}

	count, err := r.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, ErrEmptyIndex)
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrRetrieval, err)
	}

	k := r.config.TopK
	if r.reranker != nil {
		k = r.config.Candidates
	}
	hits, err := r.store.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	hits = filterByScore(hits, r.config.MinScore)
	if r.reranker != nil {
		hits, err = r.rerank(ctx, query, hits)
		if err != nil {
			return nil, fmt.Errorf("%w: reranking: %w", ErrRetrieval, err)
		}
	}
	if len(hits) > r.config.TopK {
		hits = hits[:r.config.TopK]
	}

	pages = GroupByPage(hits)
	span.SetAttributes(
		attribute.Int("hits", len(hits)),
		attribute.Int("pages", len(pages)),
	)
	r.logger.Debug("retrieved context",
		zap.Int("hits", len(hits)),
		zap.Int("pages", len(pages)))

	return pages, nil
}

func (r *Retriever) rerank(ctx context.Context, query string, hits []vectorstore.SearchResult) ([]vectorstore.SearchResult, error) {
	docs := make([]reranker.Document, len(hits))
	for i, h := range hits {
		docs[i] = reranker.Document{ID: h.ID, Content: h.Content, Score: h.Score, Metadata: h.Metadata}
	}
	ranked, err := r.reranker.Rerank(ctx, query, docs, r.config.TopK)
	if err != nil {
		return nil, err
	}
	out := make([]vectorstore.SearchResult, len(ranked))
	for i, d := range ranked {
		out[i] = vectorstore.SearchResult{ID: d.ID, Content: d.Content, Score: d.Score, Metadata: d.Metadata}
	}
	return out, nil
}

func filterByScore(hits []vectorstore.SearchResult, threshold float32) []vectorstore.SearchResult {
	if threshold <= 0 {
		return hits
	}
	kept := make([]vectorstore.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			kept = append(kept, h)
		}
	}
	return kept
}

// GroupByPage merges hits from the same page, joining their texts with a
// single space in rank order. Pages are sorted ascending by number; missing
// or non-numeric pages follow in first-seen order.
func GroupByPage(hits []vectorstore.SearchResult) []PageResult {
	var (
		order []string
		texts = make(map[string][]string)
	)
	for _, h := range hits {
		page := strings.TrimSpace(h.Metadata[vectorstore.MetaPage])
		if _, ok := texts[page]; !ok {
			order = append(order, page)
		}
		texts[page] = append(texts[page], h.Content)
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, aok := pageNumber(order[i])
		b, bok := pageNumber(order[j])
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		default:
			return false
		}
	})

	pages := make([]PageResult, len(order))
	for i, p := range order {
		pages[i] = PageResult{Page: p, Text: strings.Join(texts[p], " ")}
	}
	return pages
}

func pageNumber(label string) (int, bool) {
	n, err := strconv.Atoi(label)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Format renders pages as "[Page n]: text" blocks separated by a blank line.
// A page without a label renders as "[Page unknown]".
func Format(pages []PageResult) string {
	blocks := make([]string, len(pages))
	for i, p := range pages {
		label := p.Page
		if label == "" {
			label = "unknown"
		}
		blocks[i] = fmt.Sprintf("[Page %s]: %s", label, p.Text)
	}
	return strings.Join(blocks, "\n\n")
}
