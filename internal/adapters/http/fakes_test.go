package httpadapter

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/kirillkom/bidmatch/internal/config"
	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/observability/metrics"
)

type ingestFake struct {
	err error
}

func (f ingestFake) Upload(_ context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", io.EOF)
	}
	now := time.Now().UTC()
	return &domain.Document{
		ID:          "doc-1",
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: "doc-1_" + filename,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Filename: "a.txt", Status: domain.StatusReady}, nil
}

type searchFake struct {
	lastMode   string
	lastHybrid domain.HybridOptions
	lastMMR    domain.MMROptions
	err        error
}

func (f *searchFake) result(mode string) ([]domain.RetrievedResult, error) {
	f.lastMode = mode
	if f.err != nil {
		return nil, f.err
	}
	return []domain.RetrievedResult{{ChunkID: "c1", DocumentID: "doc-1", Text: "portal", Score: 0.9}}, nil
}

func (f *searchFake) Search(context.Context, []float32, domain.SearchOptions) ([]domain.RetrievedResult, error) {
	return f.result("raw")
}

func (f *searchFake) SearchMMR(context.Context, []float32, domain.MMROptions) ([]domain.RetrievedResult, error) {
	return f.result("raw-mmr")
}

func (f *searchFake) SearchText(context.Context, string, domain.SearchOptions) ([]domain.RetrievedResult, error) {
	return f.result("vector")
}

func (f *searchFake) SearchTextMMR(_ context.Context, _ string, opts domain.MMROptions) ([]domain.RetrievedResult, error) {
	f.lastMMR = opts
	return f.result("mmr")
}

func (f *searchFake) KeywordSearch(context.Context, string, domain.SearchOptions) ([]domain.RetrievedResult, error) {
	return f.result("keyword")
}

func (f *searchFake) HybridSearch(_ context.Context, _ string, opts domain.HybridOptions) ([]domain.RetrievedResult, error) {
	f.lastHybrid = opts
	return f.result("hybrid")
}

type matchingFake struct {
	lastOpts domain.MatchOptions
	err      error
}

func (f *matchingFake) MatchTeams(_ context.Context, documentID string, opts domain.MatchOptions) ([]domain.MatchedCandidate, error) {
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return []domain.MatchedCandidate{{DocumentID: documentID, CandidateID: "team-a", Score: 0.8, Status: domain.MatchPendingReview}}, nil
}

func (f *matchingFake) ListMatches(context.Context, string) ([]domain.MatchedCandidate, error) {
	return nil, nil
}

type analysisFake struct {
	events []domain.AnalysisEvent
	err    error
}

func (f *analysisFake) StartAnalysis(_ context.Context, documentID string) (*domain.AnalysisJob, error) {
	return &domain.AnalysisJob{ID: "job-1", DocumentID: documentID, Status: domain.AnalysisQueued}, nil
}

func (f *analysisFake) GetJob(_ context.Context, jobID string) (*domain.AnalysisJob, error) {
	if jobID != "job-1" {
		return nil, domain.WrapError(domain.ErrNotFound, "get analysis job", io.EOF)
	}
	return &domain.AnalysisJob{ID: jobID, Status: domain.AnalysisRunning}, nil
}

func (f *analysisFake) WaitForAnalysis(_ context.Context, _ string, onEvent func(domain.AnalysisEvent)) (*domain.AnalysisResult, error) {
	for _, ev := range f.events {
		onEvent(ev)
	}
	return nil, f.err
}

type workflowFake struct {
	updates []domain.ProgressUpdate
	err     error
}

func (f *workflowFake) ProcessAnnouncement(_ context.Context, upload domain.Upload, onProgress func(domain.ProgressUpdate)) (*domain.WorkflowResult, error) {
	if _, err := io.ReadAll(upload.Body); err != nil {
		return nil, err
	}
	for _, u := range f.updates {
		onProgress(u)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.WorkflowResult{}, nil
}

func newTestRouter(t *testing.T, cfg config.Config, svc Services) (*Router, http.Handler) {
	t.Helper()
	rt, err := NewRouter(cfg, svc, metrics.NewHTTPServerMetrics("api"), nil)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return rt, rt.Handler()
}
