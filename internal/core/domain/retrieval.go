package domain

import "time"

type ChunkType string

const (
	// ChunkTypeFull marks the leading window used for whole-document search.
	ChunkTypeFull  ChunkType = "full"
	ChunkTypeChunk ChunkType = "chunk"
)

// ChunkText is one window produced by the chunking policy.
type ChunkText struct {
	Index int       `json:"index"`
	Text  string    `json:"text"`
	Type  ChunkType `json:"type"`
}

// Chunk is a stored slice of a document with its embedding.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Index      int            `json:"chunk_index"`
	Type       ChunkType      `json:"chunk_type"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Embedding  []float32      `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RetrievedResult is a scored chunk returned by a search. Relevance keeps the
// raw query similarity when Score holds a derived value (MMR, fusion).
type RetrievedResult struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Score      float64        `json:"score"`
	Relevance  float64        `json:"relevance,omitempty"`
}

// ScoredChunk is a cosine-search row that still carries its embedding, which
// diversity-aware selection needs.
type ScoredChunk struct {
	RetrievedResult
	Embedding []float32
}

type SearchOptions struct {
	TopK        int
	Threshold   *float64
	DocumentIDs []string
}

type MMROptions struct {
	TopK        int
	Lambda      *float64
	FetchK      int
	DocumentIDs []string
}

type FusionStrategy string

const (
	FusionWeighted FusionStrategy = "weighted"
	FusionRRF      FusionStrategy = "rrf"
)

type FusionWeights struct {
	Vector  float64 `json:"vector"`
	Keyword float64 `json:"keyword"`
}

type HybridOptions struct {
	TopK        int
	Candidates  int
	DocumentIDs []string
	Weights     *FusionWeights
	Strategy    FusionStrategy
}

// CompletionRequest is one prompt sent to the completion provider.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	JSON        bool
}
