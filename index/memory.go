package index

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: make(map[string][]Entry)}
}

func (s *MemoryStore) Replace(ctx context.Context, namespace string, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	copied := make([]Entry, len(entries))
	for i, e := range entries {
		copied[i] = Entry{Chunk: e.Chunk, Embedding: append([]float32(nil), e.Embedding...)}
		copied[i].Chunk.DocumentID = namespace
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(copied) == 0 {
		delete(s.namespaces, namespace)
		return nil
	}
	s.namespaces[namespace] = copied
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, namespace string, query []float32, filter Filter, limit int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := s.namespaces[namespace]
	candidates := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		if !filter.Match(e.Chunk) {
			continue
		}
		candidates = append(candidates, Candidate{Entry: e, Score: CosineSimilarity(query, e.Embedding)})
	}
	s.mu.RUnlock()

	return topCandidates(candidates, limit), nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.namespaces, namespace)
	s.mu.Unlock()
	return nil
}

// Len reports the number of entries stored under namespace.
func (s *MemoryStore) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

// topCandidates sorts by descending score and truncates to limit. Ties keep
// page order so results are deterministic.
func topCandidates(candidates []Candidate, limit int) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Chunk.PageNumber != candidates[j].Chunk.PageNumber {
			return candidates[i].Chunk.PageNumber < candidates[j].Chunk.PageNumber
		}
		return candidates[i].Chunk.Index < candidates[j].Chunk.Index
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

var _ Store = (*MemoryStore)(nil)
