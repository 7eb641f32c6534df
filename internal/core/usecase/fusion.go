package usecase

import "github.com/kirillkom/bidmatch/internal/core/domain"

func DefaultFusionWeights() domain.FusionWeights {
	return domain.FusionWeights{Vector: 0.7, Keyword: 0.3}
}

type fusedCandidate struct {
	result    domain.RetrievedResult
	vector    float64
	keyword   float64
	inVector  bool
	inKeyword bool
	rrfScore  float64
}

// FuseWeighted merges both channels by chunk id. A chunk found by both
// channels scores v*wv + k*wk; a single-channel chunk keeps only its own
// channel's weighted score.
func FuseWeighted(vector, keyword []domain.RetrievedResult, w domain.FusionWeights) []domain.RetrievedResult {
	acc := make(map[string]*fusedCandidate, len(vector)+len(keyword))
	for _, res := range vector {
		c := candidateFor(acc, res)
		if !c.inVector || res.Score > c.vector {
			c.vector = res.Score
		}
		c.inVector = true
	}
	for _, res := range keyword {
		c := candidateFor(acc, res)
		if !c.inKeyword || res.Score > c.keyword {
			c.keyword = res.Score
		}
		c.inKeyword = true
	}

	out := make([]domain.RetrievedResult, 0, len(acc))
	for _, c := range acc {
		res := c.result
		res.Score = 0
		res.Relevance = 0
		if c.inVector {
			res.Score += c.vector * w.Vector
			res.Relevance = c.vector
		}
		if c.inKeyword {
			res.Score += c.keyword * w.Keyword
		}
		out = append(out, res)
	}
	sortResults(out)
	return out
}

// FuseRRF merges both channels by reciprocal rank. Inputs must already be
// ordered best first.
func FuseRRF(vector, keyword []domain.RetrievedResult, rrfK int) []domain.RetrievedResult {
	if rrfK <= 0 {
		rrfK = 60
	}
	acc := make(map[string]*fusedCandidate, len(vector)+len(keyword))
	addList := func(results []domain.RetrievedResult) {
		for rank, res := range results {
			c := candidateFor(acc, res)
			c.rrfScore += 1.0 / float64(rrfK+rank+1)
		}
	}
	addList(vector)
	addList(keyword)

	out := make([]domain.RetrievedResult, 0, len(acc))
	for _, c := range acc {
		res := c.result
		res.Score = c.rrfScore
		out = append(out, res)
	}
	sortResults(out)
	return out
}

func candidateFor(acc map[string]*fusedCandidate, res domain.RetrievedResult) *fusedCandidate {
	c, ok := acc[res.ChunkID]
	if !ok {
		c = &fusedCandidate{result: res}
		acc[res.ChunkID] = c
		return c
	}
	c.result = preferRicherResult(c.result, res)
	return c
}

func preferRicherResult(current, candidate domain.RetrievedResult) domain.RetrievedResult {
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.DocumentID == "" && candidate.DocumentID != "" {
		current.DocumentID = candidate.DocumentID
	}
	if len(current.Metadata) == 0 && len(candidate.Metadata) > 0 {
		current.Metadata = candidate.Metadata
	}
	return current
}
