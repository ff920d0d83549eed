package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/scanqa/document"
	"github.com/fabfab/scanqa/embeddings"
)

func quiet() Option { return WithLogger(log.New(io.Discard, "", 0)) }

func chunk(doc string, page int, conf document.Confidence, text string) document.Chunk {
	return document.Chunk{
		ID:         document.ChunkID(doc, page, 0),
		Text:       text,
		PageNumber: page,
		DocumentID: doc,
		SourceName: doc + ".pdf",
		Confidence: conf,
	}
}

type failingStore struct {
	*MemoryStore
	err   error
	delay time.Duration
}

var _ Store = (*failingStore)(nil)

func (s *failingStore) Replace(ctx context.Context, ns string, entries []Entry) error {
	return s.err
}

func (s *failingStore) Search(ctx context.Context, ns string, q []float32, f Filter, limit int) ([]Candidate, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, s.err
}

// leakyStore ignores namespace and filter entirely.
type leakyStore struct{ *MemoryStore }

func (s *leakyStore) Search(ctx context.Context, ns string, q []float32, f Filter, limit int) ([]Candidate, error) {
	var all []Candidate
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entries := range s.namespaces {
		for _, e := range entries {
			all = append(all, Candidate{Entry: e, Score: CosineSimilarity(q, e.Embedding)})
		}
	}
	return all, nil
}

type countingEmbedder struct {
	embeddings.Embedder
	calls []int
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, len(texts))
	return e.Embedder.Embed(ctx, texts)
}

type brokenEmbedder struct{ dims []int }

func (e brokenEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims[i%len(e.dims)])
		if len(out[i]) > 0 {
			out[i][0] = 1
		}
	}
	return out, nil
}

// stalledEmbedder blocks until its context ends, like a hung embeddings API.
type stalledEmbedder struct{}

func (stalledEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBuildWithNoChunksIsNoop(t *testing.T) {
	ix := New(nil, nil, quiet())
	require.NoError(t, ix.Build(context.Background(), nil))
}

func TestQueryIsolatesNamespaces(t *testing.T) {
	store := NewMemoryStore()
	ix := New(store, embeddings.NewHashEmbedder(128), quiet())
	ctx := context.Background()

	require.NoError(t, ix.Build(ctx, []document.Chunk{
		chunk("doc-a", 1, document.High, "Invoice #123 Total: $45.00"),
		chunk("doc-b", 1, document.High, "Invoice #999 Total: $10.00"),
	}))

	got, err := ix.Query(ctx, "doc-a", "What is the invoice total?", DefaultQueryOptions())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "doc-a", got[0].DocumentID)
	assert.Contains(t, got[0].Text, "$45.00")
}

func TestQueryFilterAppliesBeforeFetchK(t *testing.T) {
	ix := New(NewMemoryStore(), embeddings.NewHashEmbedder(128), quiet())
	ctx := context.Background()

	var chunks []document.Chunk
	for page := 1; page <= 20; page++ {
		chunks = append(chunks, chunk("doc", page, document.Low, "invoice total amount due"))
	}
	chunks = append(chunks, chunk("doc", 21, document.High, "shipping address"))
	require.NoError(t, ix.Build(ctx, chunks))

	opts := DefaultQueryOptions()
	opts.Filter = Filter{Eq(FieldConfidence, document.High)}
	got, err := ix.Query(ctx, "doc", "invoice total amount due", opts)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 21, got[0].PageNumber)
}

func TestQueryUnknownNamespaceIsEmpty(t *testing.T) {
	ix := New(NewMemoryStore(), embeddings.NewHashEmbedder(64), quiet())
	got, err := ix.Query(context.Background(), "nobody", "anything", DefaultQueryOptions())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryRejectsBadInput(t *testing.T) {
	ix := New(NewMemoryStore(), embeddings.NewHashEmbedder(64), quiet())

	_, err := ix.Query(context.Background(), " ", "q", DefaultQueryOptions())
	require.ErrorIs(t, err, document.ErrInvalidInput)

	opts := DefaultQueryOptions()
	opts.Filter = Filter{Eq(FieldConfidence, "high")}
	_, err = ix.Query(context.Background(), "doc", "q", opts)
	require.ErrorIs(t, err, document.ErrInvalidFilter)
}

func TestQueryDropsLeakedCandidates(t *testing.T) {
	store := &leakyStore{MemoryStore: NewMemoryStore()}
	ix := New(store, embeddings.NewHashEmbedder(64), quiet())
	ctx := context.Background()
	require.NoError(t, ix.Build(ctx, []document.Chunk{
		chunk("doc-a", 1, document.High, "alpha beta"),
		chunk("doc-a", 2, document.Low, "alpha beta"),
		chunk("doc-b", 1, document.High, "alpha beta"),
	}))

	opts := DefaultQueryOptions()
	opts.Filter = Filter{Eq(FieldConfidence, document.High)}
	got, err := ix.Query(ctx, "doc-a", "alpha", opts)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "doc-a", got[0].DocumentID)
	assert.Equal(t, document.High, got[0].Confidence)
}

func TestBuildReplacesPreviousContents(t *testing.T) {
	store := NewMemoryStore()
	ix := New(store, embeddings.NewHashEmbedder(64), quiet())
	ctx := context.Background()

	require.NoError(t, ix.Build(ctx, []document.Chunk{
		chunk("doc", 1, document.High, "one"),
		chunk("doc", 2, document.High, "two"),
		chunk("doc", 3, document.High, "three"),
	}))
	require.Equal(t, 3, store.Len("doc"))

	require.NoError(t, ix.Build(ctx, []document.Chunk{chunk("doc", 1, document.High, "one")}))
	assert.Equal(t, 1, store.Len("doc"))

	require.NoError(t, ix.Clear(ctx, "doc"))
	assert.Zero(t, store.Len("doc"))
}

func TestBuildBatchesEmbeddings(t *testing.T) {
	emb := &countingEmbedder{Embedder: embeddings.NewHashEmbedder(32)}
	ix := New(NewMemoryStore(), emb, WithBatchSize(2), quiet())

	var chunks []document.Chunk
	for page := 1; page <= 5; page++ {
		chunks = append(chunks, chunk("doc", page, document.High, fmt.Sprintf("page %d", page)))
	}
	require.NoError(t, ix.Build(context.Background(), chunks))
	assert.Equal(t, []int{2, 2, 1}, emb.calls)
}

func TestBuildRejectsInconsistentDimensions(t *testing.T) {
	ix := New(NewMemoryStore(), brokenEmbedder{dims: []int{4, 3}}, quiet())
	err := ix.Build(context.Background(), []document.Chunk{
		chunk("doc", 1, document.High, "a"),
		chunk("doc", 2, document.High, "b"),
	})
	require.ErrorIs(t, err, document.ErrIndexBuild)
	require.ErrorIs(t, err, document.ErrEmbedding)
}

func TestStoreFailuresAreRetryable(t *testing.T) {
	boom := errors.New("connection refused")
	ix := New(&failingStore{MemoryStore: NewMemoryStore(), err: boom}, embeddings.NewHashEmbedder(32), quiet())
	ctx := context.Background()

	err := ix.Build(ctx, []document.Chunk{chunk("doc", 1, document.High, "a")})
	require.ErrorIs(t, err, document.ErrIndexBuild)
	require.ErrorIs(t, err, boom)
	assert.True(t, document.IsRetryable(err))

	_, err = ix.Query(ctx, "doc", "a", DefaultQueryOptions())
	require.ErrorIs(t, err, document.ErrIndexQuery)
	assert.True(t, document.IsRetryable(err))
}

func TestQueryTimesOut(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), delay: time.Second}
	ix := New(store, embeddings.NewHashEmbedder(32), WithTimeout(20*time.Millisecond), quiet())

	_, err := ix.Query(context.Background(), "doc", "a", DefaultQueryOptions())
	require.ErrorIs(t, err, document.ErrIndexQuery)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, document.IsRetryable(err))
}

func TestEmbeddingHonoursIndexTimeout(t *testing.T) {
	ix := New(NewMemoryStore(), stalledEmbedder{}, WithTimeout(50*time.Millisecond), quiet())

	// The caller's deadline is far longer than the index timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := ix.Build(ctx, []document.Chunk{chunk("doc", 1, document.High, "Total: $45.00")})
	require.ErrorIs(t, err, document.ErrIndexBuild)
	require.ErrorIs(t, err, document.ErrEmbedding)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, document.IsRetryable(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	start = time.Now()
	_, err = ix.Query(ctx, "doc", "total", DefaultQueryOptions())
	require.ErrorIs(t, err, document.ErrIndexQuery)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, document.IsRetryable(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueryOptionsNormalized(t *testing.T) {
	o := QueryOptions{K: 20, FetchK: 5, Lambda: 2}.normalized()
	assert.Equal(t, 20, o.K)
	assert.Equal(t, 20, o.FetchK)
	assert.Equal(t, DefaultLambda, o.Lambda)

	o = QueryOptions{}.normalized()
	assert.Equal(t, DefaultK, o.K)
	assert.Equal(t, DefaultFetchK, o.FetchK)
}
