package vectorstore

// Metadata keys written for every indexed chunk.
const (
	MetaPage       = "page"
	MetaSource     = "source"
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
)

// Document is an embedded chunk to be stored.
type Document struct {
	// ID is unique per stored chunk.
	ID string

	Content string

	// Metadata holds at least MetaPage for chunks produced by the index writer.
	Metadata map[string]string

	Embedding []float32
}

// SearchResult is a stored chunk returned by a query.
type SearchResult struct {
	ID      string
	Content string

	// Score is the cosine similarity to the query (higher = more similar).
	Score float32

	Metadata map[string]string
}
