// Package index embeds chunks into a namespaced vector store and answers
// filtered, diversity-ranked similarity queries against one namespace.
package index

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fabfab/scanqa/document"
	"github.com/fabfab/scanqa/embeddings"
)

const (
	DefaultK      = 6
	DefaultFetchK = 12
	DefaultLambda = 0.6

	defaultBatchSize = 64
	defaultTimeout   = 30 * time.Second
)

// QueryOptions controls a single query. Filter is applied before the FetchK
// candidates are chosen, so it never starves the result.
type QueryOptions struct {
	K      int
	FetchK int
	Lambda float64
	Filter Filter
}

func DefaultQueryOptions() QueryOptions {
	return QueryOptions{K: DefaultK, FetchK: DefaultFetchK, Lambda: DefaultLambda}
}

func (o QueryOptions) normalized() QueryOptions {
	if o.K <= 0 {
		o.K = DefaultK
	}
	if o.FetchK < o.K {
		o.FetchK = max(DefaultFetchK, o.K)
	}
	if o.Lambda < 0 || o.Lambda > 1 {
		o.Lambda = DefaultLambda
	}
	return o
}

type Index struct {
	store     Store
	embedder  embeddings.Embedder
	batchSize int
	timeout   time.Duration
	logger    *log.Logger
}

type Option func(*Index)

func WithBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithTimeout bounds every embedder and store call.
func WithTimeout(d time.Duration) Option {
	return func(ix *Index) {
		if d > 0 {
			ix.timeout = d
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

func New(store Store, embedder embeddings.Embedder, opts ...Option) *Index {
	ix := &Index{
		store:     store,
		embedder:  embedder,
		batchSize: defaultBatchSize,
		timeout:   defaultTimeout,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Build embeds chunks and replaces the contents of each chunk's namespace
// (its DocumentID). Building with no chunks does nothing.
func (ix *Index) Build(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if ix.store == nil || ix.embedder == nil {
		return fmt.Errorf("%w: index is not configured", document.ErrIndexBuild)
	}

	var order []string
	groups := make(map[string][]document.Chunk)
	for _, c := range chunks {
		if strings.TrimSpace(c.DocumentID) == "" {
			return fmt.Errorf("%w: chunk %s has no document id", document.ErrIndexBuild, c.ID)
		}
		if _, ok := groups[c.DocumentID]; !ok {
			order = append(order, c.DocumentID)
		}
		groups[c.DocumentID] = append(groups[c.DocumentID], c)
	}

	for _, namespace := range order {
		entries, err := ix.embedChunks(ctx, groups[namespace])
		if err != nil {
			return err
		}

		storeCtx, cancel := context.WithTimeout(ctx, ix.timeout)
		err = ix.store.Replace(storeCtx, namespace, entries)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: replace namespace %s: %w", document.ErrIndexBuild, namespace, err)
		}
		ix.logger.Printf("indexed %d chunks into namespace %s", len(entries), namespace)
	}
	return nil
}

func (ix *Index) embedChunks(ctx context.Context, chunks []document.Chunk) ([]Entry, error) {
	entries := make([]Entry, 0, len(chunks))
	dimension := 0
	for start := 0; start < len(chunks); start += ix.batchSize {
		end := min(start+ix.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vectors, err := ix.embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w: %w", document.ErrIndexBuild, document.ErrEmbedding, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: %w: embedding count mismatch: have %d chunks, %d embeddings", document.ErrIndexBuild, document.ErrEmbedding, len(texts), len(vectors))
		}

		for i, vec := range vectors {
			if dimension == 0 {
				dimension = len(vec)
			}
			if len(vec) == 0 || len(vec) != dimension {
				return nil, fmt.Errorf("%w: %w: inconsistent embedding dimension %d", document.ErrIndexBuild, document.ErrEmbedding, len(vec))
			}
			entries = append(entries, Entry{Chunk: chunks[start+i], Embedding: vec})
		}
	}
	return entries, nil
}

// embed runs one embedder call under the index timeout.
func (ix *Index) embed(ctx context.Context, texts []string) ([][]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()
	return ix.embedder.Embed(embedCtx, texts)
}

// Query returns up to opts.K chunks of namespace relevant to text. An empty
// or unknown namespace yields no chunks and no error.
func (ix *Index) Query(ctx context.Context, namespace, text string, opts QueryOptions) ([]document.Chunk, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, fmt.Errorf("%w: namespace is required", document.ErrInvalidInput)
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	if ix.store == nil || ix.embedder == nil {
		return nil, fmt.Errorf("%w: index is not configured", document.ErrIndexQuery)
	}
	opts = opts.normalized()

	vectors, err := ix.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", document.ErrIndexQuery, document.ErrEmbedding, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: %w: query embedding missing", document.ErrIndexQuery, document.ErrEmbedding)
	}

	storeCtx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()
	candidates, err := ix.store.Search(storeCtx, namespace, vectors[0], opts.Filter, opts.FetchK)
	if err != nil {
		return nil, fmt.Errorf("%w: search namespace %s: %w", document.ErrIndexQuery, namespace, err)
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if c.Chunk.DocumentID != namespace || !opts.Filter.Match(c.Chunk) {
			ix.logger.Printf("dropping chunk %s outside namespace %s or filter", c.Chunk.ID, namespace)
			continue
		}
		kept = append(kept, c)
	}

	picked := MaxMarginalRelevance(kept, opts.K, opts.Lambda)
	chunks := make([]document.Chunk, len(picked))
	for i, c := range picked {
		chunks[i] = c.Chunk
	}
	return chunks, nil
}

// Clear removes every entry of namespace.
func (ix *Index) Clear(ctx context.Context, namespace string) error {
	if ix.store == nil {
		return fmt.Errorf("%w: index is not configured", document.ErrIndexBuild)
	}
	storeCtx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()
	if err := ix.store.Delete(storeCtx, namespace); err != nil {
		return fmt.Errorf("%w: delete namespace %s: %w", document.ErrIndexBuild, namespace, err)
	}
	return nil
}
