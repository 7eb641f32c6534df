package usecase

import (
	"math"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

// selectMMR greedily picks k candidates maximizing
// lambda*relevance - (1-lambda)*max similarity to the already selected set.
// The redundancy term is zero for the first pick. Each result's Score is its
// marginal value at selection time and Relevance keeps the cosine score.
func selectMMR(candidates []domain.ScoredChunk, k int, lambda float64) []domain.RetrievedResult {
	if k <= 0 || len(candidates) == 0 {
		return []domain.RetrievedResult{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	remaining := make([]domain.ScoredChunk, len(candidates))
	copy(remaining, candidates)
	// maxSim[i] is the highest similarity of remaining[i] to a selected chunk.
	// It can be negative: an anti-correlated chunk is the least redundant.
	maxSim := make([]float64, len(remaining))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}

	out := make([]domain.RetrievedResult, 0, k)
	for len(out) < k {
		best := -1
		bestScore := 0.0
		for i, c := range remaining {
			score := lambda * c.Score
			if len(out) > 0 {
				score -= (1 - lambda) * maxSim[i]
			}
			if best < 0 || betterMMR(score, c, bestScore, remaining[best]) {
				best = i
				bestScore = score
			}
		}

		chosen := remaining[best]
		res := chosen.RetrievedResult
		res.Relevance = chosen.Score
		res.Score = bestScore
		out = append(out, res)

		remaining = append(remaining[:best], remaining[best+1:]...)
		maxSim = append(maxSim[:best], maxSim[best+1:]...)
		for i, c := range remaining {
			if sim := cosineSimilarity(c.Embedding, chosen.Embedding); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return out
}

func betterMMR(score float64, c domain.ScoredChunk, bestScore float64, best domain.ScoredChunk) bool {
	if score != bestScore {
		return score > bestScore
	}
	if c.Score != best.Score {
		return c.Score > best.Score
	}
	return c.ChunkID < best.ChunkID
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
