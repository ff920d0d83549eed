package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// hashEmbedder is an offline bag-of-words embedder using the hashing trick.
// Texts sharing vocabulary get high cosine similarity, which is enough for
// local runs and tests without an embeddings API.
type hashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) Embedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &hashEmbedder{dimension: dimension}
}

func (e *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = e.vector(text)
	}
	return results, nil
}

func (e *hashEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[sum%uint64(e.dimension)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
