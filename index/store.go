package index

import (
	"context"

	"github.com/fabfab/scanqa/document"
)

// Entry is a chunk with its embedding.
type Entry struct {
	Chunk     document.Chunk
	Embedding []float32
}

// Candidate is a search hit. Score is the cosine similarity to the query.
type Candidate struct {
	Entry
	Score float64
}

// Store persists entries partitioned by namespace. Search must only consider
// entries of the given namespace that match filter, and must return the
// embeddings of the hits.
type Store interface {
	// Replace atomically swaps every entry of namespace for entries.
	Replace(ctx context.Context, namespace string, entries []Entry) error
	Search(ctx context.Context, namespace string, query []float32, filter Filter, limit int) ([]Candidate, error)
	Delete(ctx context.Context, namespace string) error
}
