package ports

import (
	"context"
	"io"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetChunkCount(ctx context.Context, id string, count int) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// AnalysisQueue dispatches deep analysis jobs to workers.
type AnalysisQueue interface {
	PublishAnalysisJob(ctx context.Context, jobID string) error
	SubscribeAnalysisJobs(ctx context.Context, handler func(context.Context, string) error) error
}

// ProgressBus fans analysis events out to subscribers of one job.
type ProgressBus interface {
	PublishAnalysisEvent(ctx context.Context, event domain.AnalysisEvent) error
	// SubscribeAnalysisEvents returns a stream of events for jobID and a
	// function releasing the subscription. The stream closes after release.
	SubscribeAnalysisEvents(ctx context.Context, jobID string) (<-chan domain.AnalysisEvent, func(), error)
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Chunker splits text into ordered, typed windows.
type Chunker interface {
	Split(text string) []domain.ChunkText
}

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer runs a single prompt against the completion provider.
type Completer interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
}

// ChunkStore indexes chunks and serves the vector and keyword channels.
type ChunkStore interface {
	InsertChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	CosineSearch(ctx context.Context, vector []float32, k int, documentIDs []string) ([]domain.ScoredChunk, error)
	// KeywordSearch returns chunks containing any of terms, case-insensitively.
	KeywordSearch(ctx context.Context, terms []string, k int, documentIDs []string) ([]domain.RetrievedResult, error)
	// GetChunksByDocument returns chunks ordered by index. limit <= 0 means all.
	GetChunksByDocument(ctx context.Context, documentID string, limit int) ([]domain.Chunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// MetadataStore upserts announcement metadata keyed by document id.
type MetadataStore interface {
	UpsertMetadata(ctx context.Context, meta *domain.AnnouncementMetadata) error
	SaveAnalysis(ctx context.Context, documentID string, result *domain.AnalysisResult) error
	GetMetadata(ctx context.Context, documentID string) (*domain.AnnouncementMetadata, error)
}

// CandidateDirectory serves candidate team profiles.
type CandidateDirectory interface {
	ListCandidates(ctx context.Context) ([]domain.Candidate, error)
	GetCandidate(ctx context.Context, id string) (*domain.Candidate, error)
	UpsertCandidate(ctx context.Context, candidate *domain.Candidate) error
}

// MatchStore upserts matches keyed by (document, candidate).
type MatchStore interface {
	UpsertMatches(ctx context.Context, documentID string, matches []domain.MatchedCandidate) error
	ListMatches(ctx context.Context, documentID string) ([]domain.MatchedCandidate, error)
	GetMatch(ctx context.Context, documentID, candidateID string) (*domain.MatchedCandidate, error)
}

// DraftStore keeps the current estimate draft per (document, candidate).
type DraftStore interface {
	UpsertDraft(ctx context.Context, draft *domain.EstimateDraft) error
	GetDraft(ctx context.Context, documentID, candidateID string) (*domain.EstimateDraft, error)
}

// AnalysisJobStore persists deep analysis job state.
type AnalysisJobStore interface {
	CreateJob(ctx context.Context, job *domain.AnalysisJob) error
	GetJob(ctx context.Context, id string) (*domain.AnalysisJob, error)
	UpdateJob(ctx context.Context, job *domain.AnalysisJob) error
}

// PersistFailureRecorder counts writes that failed after the result they
// store was already produced and returned.
type PersistFailureRecorder interface {
	RecordPersistFailure(store string)
}

// PhaseObserver receives timing for each finished workflow phase.
type PhaseObserver interface {
	ObservePhase(phase domain.Phase, elapsedSeconds float64, err error)
}
