package reranker

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

const (
	similarityWeight = 0.5
	overlapWeight    = 0.5
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "with": {}, "from": {}, "was": {},
	"are": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "does": {},
	"did": {}, "will": {}, "would": {}, "could": {}, "should": {}, "may": {},
	"might": {}, "can": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"you": {}, "she": {}, "they": {}, "what": {}, "which": {}, "who": {},
	"when": {}, "where": {}, "why": {}, "how": {}, "its": {}, "into": {},
	"about": {}, "document": {}, "page": {},
}

// SimpleReranker blends vector similarity with query term overlap.
type SimpleReranker struct{}

// NewSimpleReranker creates a SimpleReranker.
func NewSimpleReranker() *SimpleReranker {
	return &SimpleReranker{}
}

// Rerank scores each document as 0.5*similarity + 0.5*overlap, where overlap
// is the share of distinct query terms present in the document. Ties keep the
// input order.
func (r *SimpleReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if topK <= 0 || topK > len(docs) {
		topK = len(docs)
	}
	if len(docs) == 0 {
		return []ScoredDocument{}, nil
	}

	queryTerms := uniqueTerms(tokenize(query))
	if len(queryTerms) == 0 {
		return fallbackRank(docs, topK), nil
	}

	type candidate struct {
		doc      ScoredDocument
		combined float32
	}
	candidates := make([]candidate, len(docs))
	for i, d := range docs {
		overlap := termOverlap(queryTerms, tokenize(d.Content))
		candidates[i] = candidate{
			doc: ScoredDocument{
				Document:      d,
				RerankerScore: overlap,
				OriginalRank:  i,
			},
			combined: similarityWeight*d.Score + overlapWeight*overlap,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].combined > candidates[j].combined
	})

	out := make([]ScoredDocument, topK)
	for i := range out {
		out[i] = candidates[i].doc
	}
	return out, nil
}

// Close is a no-op.
func (r *SimpleReranker) Close() error {
	return nil
}

// tokenize lowercases text and splits it on anything that is not a letter or
// digit. Stopwords and words shorter than three letters are dropped; tokens
// containing digits are always kept ("q1", "2023").
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if strings.ContainsFunc(f, unicode.IsDigit) {
			tokens = append(tokens, f)
			continue
		}
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// termOverlap returns the share of query terms present in docTokens.
func termOverlap(queryTerms, docTokens []string) float32 {
	if len(queryTerms) == 0 {
		return 0
	}
	present := make(map[string]struct{}, len(docTokens))
	for _, t := range docTokens {
		present[t] = struct{}{}
	}
	matches := 0
	for _, q := range queryTerms {
		if _, ok := present[q]; ok {
			matches++
		}
	}
	return float32(matches) / float32(len(queryTerms))
}

// fallbackRank orders by similarity alone.
func fallbackRank(docs []Document, topK int) []ScoredDocument {
	out := make([]ScoredDocument, len(docs))
	for i, d := range docs {
		out[i] = ScoredDocument{Document: d, RerankerScore: d.Score, OriginalRank: i}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out[:topK]
}
