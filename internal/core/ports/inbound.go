package ports

import (
	"context"
	"io"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for document indexing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// SearchService exposes the retrieval channels.
type SearchService interface {
	Search(ctx context.Context, vector []float32, opts domain.SearchOptions) ([]domain.RetrievedResult, error)
	SearchMMR(ctx context.Context, vector []float32, opts domain.MMROptions) ([]domain.RetrievedResult, error)
	SearchText(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.RetrievedResult, error)
	SearchTextMMR(ctx context.Context, query string, opts domain.MMROptions) ([]domain.RetrievedResult, error)
	KeywordSearch(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.RetrievedResult, error)
	HybridSearch(ctx context.Context, query string, opts domain.HybridOptions) ([]domain.RetrievedResult, error)
}

// MetadataService extracts and reads announcement metadata.
type MetadataService interface {
	ExtractMetadata(ctx context.Context, documentID string) (*domain.AnnouncementMetadata, error)
	GetMetadata(ctx context.Context, documentID string) (*domain.AnnouncementMetadata, error)
}

// AnalysisService runs deep analysis jobs and streams their progress.
type AnalysisService interface {
	StartAnalysis(ctx context.Context, documentID string) (*domain.AnalysisJob, error)
	GetJob(ctx context.Context, jobID string) (*domain.AnalysisJob, error)
	WaitForAnalysis(ctx context.Context, jobID string, onEvent func(domain.AnalysisEvent)) (*domain.AnalysisResult, error)
}

// MatchingService ranks candidate teams for a document.
type MatchingService interface {
	MatchTeams(ctx context.Context, documentID string, opts domain.MatchOptions) ([]domain.MatchedCandidate, error)
	ListMatches(ctx context.Context, documentID string) ([]domain.MatchedCandidate, error)
}

// DraftService generates and reads estimate drafts.
type DraftService interface {
	GenerateDraft(ctx context.Context, documentID, candidateID string) (*domain.EstimateDraft, error)
	GetDraft(ctx context.Context, documentID, candidateID string) (*domain.EstimateDraft, error)
}

// AnnouncementProcessor runs the full pipeline for one uploaded file.
type AnnouncementProcessor interface {
	ProcessAnnouncement(ctx context.Context, upload domain.Upload, onProgress func(domain.ProgressUpdate)) (*domain.WorkflowResult, error)
}
