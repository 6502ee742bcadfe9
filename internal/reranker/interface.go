// Package reranker reorders retrieved chunks by query relevance.
package reranker

import "context"

// Document is a retrieved chunk with its vector similarity.
type Document struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// ScoredDocument is a Document after reranking.
type ScoredDocument struct {
	Document
	RerankerScore float32 // 0.0-1.0
	OriginalRank  int     // position in the input, 0-indexed
}

// Reranker reorders documents for a query.
type Reranker interface {
	// Rerank returns at most topK documents sorted by descending relevance.
	// topK <= 0 keeps all documents.
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error)
	Close() error
}
