// Package index embeds chunks and writes them to the vector store.
//
// Writes are append-only: every chunk gets a fresh entry ID, so indexing the
// same document twice stores its chunks twice. Each write is tagged with a
// document ID so duplicates can be told apart later.
package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/chunking"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

var (
	// ErrEmbedding wraps embedding provider failures.
	ErrEmbedding = errors.New("embedding chunks failed")

	// ErrIndex wraps vector store failures.
	ErrIndex = errors.New("writing to index failed")
)

const defaultBatchSize = 64

var entriesWritten = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "docqa",
	Subsystem: "index",
	Name:      "entries_written_total",
	Help:      "Total number of chunk entries written to the index",
})

// Embedder produces one vector per text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Store accepts embedded documents.
type Store interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
}

// DocumentRef identifies the document a set of chunks came from.
type DocumentRef struct {
	// ID defaults to a new UUID when empty.
	ID string
	// Source is the original filename.
	Source string
}

// WriteResult summarizes one Write call.
type WriteResult struct {
	DocumentID string
	// Entries is the number of entries committed to the store.
	Entries int
	Pages   int
}

// Writer embeds chunks in batches and persists them.
type Writer struct {
	embedder  Embedder
	store     Store
	batchSize int
	logger    *zap.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithBatchSize sets how many chunks are embedded and stored per batch.
func WithBatchSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWriter creates a Writer.
func NewWriter(embedder Embedder, store Store, opts ...Option) *Writer {
	w := &Writer{
		embedder:  embedder,
		store:     store,
		batchSize: defaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write embeds and stores chunks. Batches are committed in order; on failure
// the returned result reports how many entries were already committed.
func (w *Writer) Write(ctx context.Context, ref DocumentRef, chunks []chunking.Chunk) (*WriteResult, error) {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	result := &WriteResult{DocumentID: ref.ID, Pages: countPages(chunks)}
	start := time.Now()

	for lo := 0; lo < len(chunks); lo += w.batchSize {
		hi := min(lo+w.batchSize, len(chunks))
		batch := chunks[lo:hi]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := w.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return result, fmt.Errorf("%w: batch at chunk %d: %w", ErrEmbedding, lo, err)
		}
		if len(vectors) != len(batch) {
			return result, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbedding, len(vectors), len(batch))
		}

		docs := make([]vectorstore.Document, len(batch))
		for i, c := range batch {
			docs[i] = vectorstore.Document{
				ID:      uuid.NewString(),
				Content: c.Text,
				Metadata: map[string]string{
					vectorstore.MetaPage:       strconv.Itoa(c.Page),
					vectorstore.MetaSource:     ref.Source,
					vectorstore.MetaDocumentID: ref.ID,
					vectorstore.MetaChunkIndex: strconv.Itoa(c.Index),
				},
				Embedding: vectors[i],
			}
		}

		if err := w.store.AddDocuments(ctx, docs); err != nil {
			return result, fmt.Errorf("%w: %w", ErrIndex, err)
		}
		result.Entries += len(docs)
		entriesWritten.Add(float64(len(docs)))
	}

	w.logger.Info("document indexed",
		zap.String("document_id", ref.ID),
		zap.String("source", ref.Source),
		zap.Int("entries", result.Entries),
		zap.Int("pages", result.Pages),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

func countPages(chunks []chunking.Chunk) int {
	seen := make(map[int]struct{})
	for _, c := range chunks {
		seen[c.Page] = struct{}{}
	}
	return len(seen)
}
