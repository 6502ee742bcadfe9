// Package vectorstore persists embedded chunks and answers nearest-neighbour
// queries over them.
//
// Two backends implement Store:
//   - chromem (default): embedded, persisted as gob files under the index directory
//   - qdrant: external Qdrant server over gRPC
//
// Callers supply embeddings; neither backend embeds text itself. Metadata is a
// flat string map so both backends round-trip it unchanged.
//
// Stores are append-only from the caller's point of view: AddDocuments never
// deduplicates, and every document needs a unique ID.
package vectorstore
