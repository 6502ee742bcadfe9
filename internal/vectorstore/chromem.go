package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const backendChromem = "chromem"

var chromemTracer = otel.Tracer("docqa.vectorstore.chromem")

// errTextEmbedding is returned if chromem is ever asked to embed text itself.
var errTextEmbedding = errors.New("chromem store requires precomputed embeddings")

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored documents.
	Compress bool

	// Collection is the collection all chunks are written to.
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "./chroma_store"
	}
	if c.Collection == "" {
		c.Collection = "docqa_documents"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	return ValidateCollectionName(c.Collection)
}

// ChromemStore implements Store using chromem-go. Every added document is
// persisted immediately, and the index is reloaded from Path on startup.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger

	// chromem compares vectors of any length; dimension pins the first one seen.
	mu        sync.Mutex
	dimension int
}

// NewChromemStore opens or creates the database at config.Path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, refuseTextEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", config.Collection, err)
	}

	store := &ChromemStore{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger,
	}

	logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
		zap.String("collection", config.Collection),
		zap.Int("documents", collection.Count()),
	)

	return store, nil
}

func refuseTextEmbedding(context.Context, string) ([]float32, error) {
	return nil, errTextEmbedding
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// checkDimension pins the collection dimension on first use. A reopened
// collection learns it from the first query or write.
func (s *ChromemStore) checkDimension(dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = dim
		return nil
	}
	if s.dimension != dim {
		return fmt.Errorf("%w: got %d, collection uses %d", ErrDimensionMismatch, dim, s.dimension)
	}
	return nil
}

// AddDocuments persists docs. IDs must be unique; an existing ID is overwritten.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.AddDocuments")
	defer span.End()
	defer func(start time.Time) { recordOperation(backendChromem, "add", start, err) }(time.Now())

	span.SetAttributes(
		attribute.Int("document_count", len(docs)),
		attribute.String("collection", s.config.Collection),
	)

	dim, err := validateDocuments(docs)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err = s.checkDimension(dim); err != nil {
		span.RecordError(err)
		return err
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: d.Embedding,
		}
	}

	// concurrency of 1 since embeddings are already computed
	if err = s.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	DocumentsAdded.WithLabelValues(backendChromem).Add(float64(len(docs)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("added documents to chromem",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Search returns the k nearest documents by cosine similarity.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, k int) (results []SearchResult, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	defer func(start time.Time) { recordOperation(backendChromem, "search", start, err) }(time.Now())

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	// chromem requires nResults <= doc count
	count := s.collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if k > count {
		k = count
	}
	if err = s.checkDimension(len(vector)); err != nil {
		span.RecordError(err)
		return nil, err
	}

	found, err := s.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results = make([]SearchResult, len(found))
	for i, r := range found {
		results[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	start := time.Now()
	n := s.collection.Count()
	recordOperation(backendChromem, "count", start, nil)
	return n, nil
}

// Close is a no-op; documents are persisted on write.
func (s *ChromemStore) Close() error {
	return nil
}
