package reranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(docs []ScoredDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestSimpleReranker_Rerank(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		docs    []Document
		topK    int
		wantIDs []string
	}{
		{
			name:    "empty documents",
			query:   "revenue",
			docs:    []Document{},
			topK:    5,
			wantIDs: []string{},
		},
		{
			name:  "term overlap lifts lower similarity",
			query: "quarterly revenue growth",
			docs: []Document{
				{ID: "a", Content: "office relocation plans", Score: 0.80},
				{ID: "b", Content: "quarterly revenue growth was strong", Score: 0.70},
				{ID: "c", Content: "revenue dipped", Score: 0.75},
			},
			topK:    5,
			wantIDs: []string{"b", "c", "a"},
		},
		{
			name:  "topK limits results",
			query: "costs",
			docs: []Document{
				{ID: "a", Content: "costs rose", Score: 0.9},
				{ID: "b", Content: "costs fell", Score: 0.8},
				{ID: "c", Content: "costs flat", Score: 0.7},
			},
			topK:    2,
			wantIDs: []string{"a", "b"},
		},
		{
			name:  "stopword-only query falls back to similarity",
			query: "what is the",
			docs: []Document{
				{ID: "a", Content: "x", Score: 0.2},
				{ID: "b", Content: "y", Score: 0.9},
			},
			topK:    0,
			wantIDs: []string{"b", "a"},
		},
		{
			name:  "digits count as terms",
			query: "Q1 2023",
			docs: []Document{
				{ID: "a", Content: "results for 2022", Score: 0.8},
				{ID: "b", Content: "Q1 2023 results", Score: 0.6},
			},
			wantIDs: []string{"b", "a"},
		},
	}

	r := NewSimpleReranker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Rerank(context.Background(), tt.query, tt.docs, tt.topK)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(got))
		})
	}
}

func TestSimpleReranker_KeepsMetadata(t *testing.T) {
	docs := []Document{{ID: "a", Content: "revenue", Score: 0.5, Metadata: map[string]string{"page": "4"}}}

	got, err := NewSimpleReranker().Rerank(context.Background(), "revenue", docs, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "4", got[0].Metadata["page"])
	assert.Equal(t, float32(1), got[0].RerankerScore)
	assert.Equal(t, 0, got[0].OriginalRank)
}

func TestSimpleReranker_NilContext(t *testing.T) {
	//nolint:staticcheck // exercising the nil guard
	_, err := NewSimpleReranker().Rerank(nil, "q", nil, 1)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"The Revenue, grew!", []string{"revenue", "grew"}},
		{"Q1 of 2023", []string{"q1", "2023"}},
		{"Umsätze stiegen", []string{"umsätze", "stiegen"}},
		{"a an to", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.in))
		})
	}
}

func TestTermOverlap(t *testing.T) {
	assert.Equal(t, float32(0), termOverlap(nil, []string{"a"}))
	assert.Equal(t, float32(0.5), termOverlap([]string{"revenue", "costs"}, []string{"revenue"}))
	assert.Equal(t, float32(1), termOverlap([]string{"revenue"}, []string{"revenue", "revenue"}))
}
