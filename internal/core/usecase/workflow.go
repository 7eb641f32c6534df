package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

type DraftFailurePolicy string

const (
	// DraftPolicyPartial completes the run and reports failed drafts.
	DraftPolicyPartial DraftFailurePolicy = "partial"
	// DraftPolicyStrict fails the run when any draft fails.
	DraftPolicyStrict DraftFailurePolicy = "strict"
)

type WorkflowConfig struct {
	EstimateTopN  int
	FailurePolicy DraftFailurePolicy
}

// DocumentRegistrar stores an upload and creates its document record.
type DocumentRegistrar interface {
	Register(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

type WorkflowDeps struct {
	Registrar DocumentRegistrar
	Processor ports.DocumentProcessor
	Documents ports.DocumentReader
	Metadata  ports.MetadataService
	Analysis  ports.AnalysisService
	Matching  ports.MatchingService
	Drafts    ports.DraftService
	// Observer is optional.
	Observer ports.PhaseObserver
}

// WorkflowCoordinator drives one announcement through upload, metadata,
// analysis, matching and estimates.
type WorkflowCoordinator struct {
	deps   WorkflowDeps
	cfg    WorkflowConfig
	logger *zap.Logger
}

func NewWorkflowCoordinator(deps WorkflowDeps, cfg WorkflowConfig, logger *zap.Logger) *WorkflowCoordinator {
	if cfg.EstimateTopN <= 0 {
		cfg.EstimateTopN = 3
	}
	if cfg.FailurePolicy != DraftPolicyStrict {
		cfg.FailurePolicy = DraftPolicyPartial
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowCoordinator{deps: deps, cfg: cfg, logger: logger}
}

type workflowExec struct {
	*WorkflowCoordinator
	run        *domain.WorkflowRun
	onProgress func(domain.ProgressUpdate)
}

// ProcessAnnouncement runs the whole pipeline for one upload. Every checkpoint
// is reported to onProgress; a failure emits a final failed update and
// returns a *domain.PhaseError. Side effects of completed phases are kept.
func (c *WorkflowCoordinator) ProcessAnnouncement(
	ctx context.Context,
	upload domain.Upload,
	onProgress func(domain.ProgressUpdate),
) (*domain.WorkflowResult, error) {
	x := &workflowExec{WorkflowCoordinator: c, run: domain.NewWorkflowRun(), onProgress: onProgress}

	steps := []struct {
		phase domain.Phase
		fn    func(context.Context, domain.Upload) error
	}{
		{domain.PhaseUpload, x.upload},
		{domain.PhaseMetadata, x.metadata},
		{domain.PhaseAnalysis, x.analysis},
		{domain.PhaseMatching, x.matching},
		{domain.PhaseEstimates, x.estimates},
	}
	for _, step := range steps {
		start := time.Now()
		err := step.fn(ctx, upload)
		if c.deps.Observer != nil {
			c.deps.Observer.ObservePhase(step.phase, time.Since(start).Seconds(), err)
		}
		if err != nil {
			return nil, x.fail(step.phase, err)
		}
	}

	x.refreshDocument(ctx)
	if err := x.advance(domain.PhaseCompleted, 100, "completed", &x.run.Result); err != nil {
		return nil, x.fail(domain.PhaseCompleted, err)
	}
	c.logger.Info("workflow_completed",
		zap.String("document_id", x.run.DocumentID),
		zap.Int("matches", len(x.run.Result.Matches)),
		zap.Int("drafts", len(x.run.Result.Drafts)),
		zap.Int("draft_failures", len(x.run.Result.DraftFailures)),
	)
	result := x.run.Result
	return &result, nil
}

func (x *workflowExec) advance(phase domain.Phase, progress int, message string, data any) error {
	update, err := x.run.Advance(phase, progress, message, data)
	if err != nil {
		return err
	}
	x.emit(update)
	return nil
}

func (x *workflowExec) emit(update domain.ProgressUpdate) {
	if x.onProgress != nil {
		x.onProgress(update)
	}
}

func (x *workflowExec) fail(phase domain.Phase, err error) error {
	x.emit(x.run.Fail(phase, err))
	x.logger.Error("workflow_failed",
		zap.String("document_id", x.run.DocumentID),
		zap.String("phase", string(phase)),
		zap.Error(err),
	)
	return &domain.PhaseError{Phase: phase, Err: err}
}

func (x *workflowExec) upload(ctx context.Context, upload domain.Upload) error {
	if err := x.advance(domain.PhaseUpload, 0, "uploading "+upload.Filename, nil); err != nil {
		return err
	}
	doc, err := x.deps.Registrar.Register(ctx, upload.Filename, upload.MimeType, upload.Body)
	if err != nil {
		return err
	}
	x.run.DocumentID = doc.ID
	x.run.Result.Document = doc
	if err := x.deps.Processor.ProcessByID(ctx, doc.ID); err != nil {
		return err
	}
	x.refreshDocument(ctx)
	return x.advance(domain.PhaseUpload, 10, "document indexed", map[string]any{
		"document_id": doc.ID,
		"chunk_count": x.run.Result.Document.ChunkCount,
	})
}

func (x *workflowExec) metadata(ctx context.Context, _ domain.Upload) error {
	if err := x.advance(domain.PhaseMetadata, 40, "extracting metadata", nil); err != nil {
		return err
	}
	meta, err := x.deps.Metadata.ExtractMetadata(ctx, x.run.DocumentID)
	if err != nil {
		return err
	}
	x.run.Result.Metadata = meta
	return x.advance(domain.PhaseMetadata, 50, "metadata extracted", meta)
}

// analysis maps job progress 0..100 onto the 60..80 band.
func (x *workflowExec) analysis(ctx context.Context, _ domain.Upload) error {
	job, err := x.deps.Analysis.StartAnalysis(ctx, x.run.DocumentID)
	if err != nil {
		return err
	}
	if err := x.advance(domain.PhaseAnalysis, 60, "analysis started", map[string]string{"job_id": job.ID}); err != nil {
		return err
	}

	var advanceErr error
	result, err := x.deps.Analysis.WaitForAnalysis(ctx, job.ID, func(ev domain.AnalysisEvent) {
		if ev.Status != domain.EventProgress || advanceErr != nil {
			return
		}
		advanceErr = x.advance(domain.PhaseAnalysis, 60+ev.Progress*20/100, ev.Message, nil)
	})
	if err != nil {
		return err
	}
	if advanceErr != nil {
		return advanceErr
	}
	if result == nil {
		return errors.New("analysis finished without a result")
	}
	x.run.Result.Analysis = result
	if x.run.Result.Metadata != nil {
		x.run.Result.Metadata.Analysis = result
	}
	return x.advance(domain.PhaseAnalysis, 80, "analysis completed", result)
}

func (x *workflowExec) matching(ctx context.Context, _ domain.Upload) error {
	if err := x.advance(domain.PhaseMatching, 85, "matching teams", nil); err != nil {
		return err
	}
	matches, err := x.deps.Matching.MatchTeams(ctx, x.run.DocumentID, domain.MatchOptions{})
	if err != nil {
		return err
	}
	x.run.Result.Matches = matches
	return x.advance(domain.PhaseMatching, 90, fmt.Sprintf("matched %d teams", len(matches)), matches)
}

// estimates drafts proposals for the best matches concurrently. One failed
// draft never cancels the others; under the strict policy any failure fails
// the phase once every draft has finished.
func (x *workflowExec) estimates(ctx context.Context, _ domain.Upload) error {
	top := x.run.Result.Matches
	if len(top) > x.cfg.EstimateTopN {
		top = top[:x.cfg.EstimateTopN]
	}
	if err := x.advance(domain.PhaseEstimates, 95, fmt.Sprintf("generating %d estimates", len(top)), nil); err != nil {
		return err
	}

	drafts := make([]*domain.EstimateDraft, len(top))
	errs := make([]error, len(top))
	var g errgroup.Group
	for i, m := range top {
		g.Go(func() error {
			drafts[i], errs[i] = x.deps.Drafts.GenerateDraft(ctx, x.run.DocumentID, m.CandidateID)
			if errs[i] != nil {
				return fmt.Errorf("candidate %s: %w", m.CandidateID, errs[i])
			}
			return nil
		})
	}
	firstErr := g.Wait()

	x.run.Result.Drafts = make([]domain.EstimateDraft, 0, len(top))
	failures := make([]error, 0, len(top))
	for i, m := range top {
		if errs[i] != nil {
			x.run.Result.DraftFailures = append(x.run.Result.DraftFailures, domain.DraftFailure{
				CandidateID: m.CandidateID,
				Error:       errs[i].Error(),
			})
			failures = append(failures, fmt.Errorf("candidate %s: %w", m.CandidateID, errs[i]))
			x.logger.Warn("estimate_draft_failed",
				zap.String("document_id", x.run.DocumentID),
				zap.String("candidate_id", m.CandidateID),
				zap.Error(errs[i]),
			)
			continue
		}
		x.run.Result.Drafts = append(x.run.Result.Drafts, *drafts[i])
	}
	if firstErr != nil && x.cfg.FailurePolicy == DraftPolicyStrict {
		return errors.Join(failures...)
	}
	return nil
}

func (x *workflowExec) refreshDocument(ctx context.Context) {
	if x.deps.Documents == nil || x.run.DocumentID == "" {
		return
	}
	doc, err := x.deps.Documents.GetByID(ctx, x.run.DocumentID)
	if err != nil {
		x.logger.Warn("workflow_document_refresh_failed", zap.String("document_id", x.run.DocumentID), zap.Error(err))
		return
	}
	x.run.Result.Document = doc
}
