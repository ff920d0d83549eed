package index

import "math"

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is zero or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MaxMarginalRelevance picks up to k candidates balancing relevance (Score)
// against similarity to the ones already picked. lambda=1 is pure relevance.
func MaxMarginalRelevance(candidates []Candidate, k int, lambda float64) []Candidate {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	picked := make([]Candidate, 0, k)
	used := make([]bool, len(candidates))
	// maxSim[i] tracks the highest similarity of candidate i to any pick.
	maxSim := make([]float64, len(candidates))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}

	for len(picked) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			score := c.Score
			if len(picked) > 0 {
				score = lambda*c.Score - (1-lambda)*maxSim[i]
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}

		if best < 0 {
			break
		}
		used[best] = true
		picked = append(picked, candidates[best])
		for i, c := range candidates {
			if used[i] {
				continue
			}
			if sim := CosineSimilarity(c.Embedding, candidates[best].Embedding); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return picked
}
