package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch is returned when a vector does not match the collection.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Store is the persistent vector index.
type Store interface {
	// AddDocuments writes documents with precomputed embeddings.
	AddDocuments(ctx context.Context, docs []Document) error

	// Search returns up to k documents closest to vector, best first.
	// An empty collection yields an empty slice and no error.
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$. Both backends
// derive paths or URLs from it.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateDocuments(docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, ErrEmptyDocuments
	}
	dim := len(docs[0].Embedding)
	for i, d := range docs {
		if d.ID == "" {
			return 0, fmt.Errorf("document %d: id is required", i)
		}
		if len(d.Embedding) == 0 {
			return 0, fmt.Errorf("document %d: embedding is required", i)
		}
		if len(d.Embedding) != dim {
			return 0, fmt.Errorf("%w: document %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(d.Embedding), dim)
		}
	}
	return dim, nil
}
