package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
	"github.com/kirillkom/bidmatch/internal/core/prompts"
)

type AnalysisConfig struct {
	// Timeout bounds WaitForAnalysis and subscriptions opened without one.
	Timeout    time.Duration
	MaxChunks  int
	AspectTopK int
}

func (c AnalysisConfig) normalize() AnalysisConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 15
	}
	if c.AspectTopK <= 0 {
		c.AspectTopK = 6
	}
	return c
}

// AspectSearcher grounds one analysis aspect in the document.
type AspectSearcher interface {
	SearchTextMMR(ctx context.Context, query string, opts domain.MMROptions) ([]domain.RetrievedResult, error)
}

type AnalysisOrchestrator struct {
	docs     ports.DocumentRepository
	jobs     ports.AnalysisJobStore
	chunks   ports.ChunkStore
	metadata ports.MetadataStore
	search   AspectSearcher
	llm      ports.Completer
	queue    ports.AnalysisQueue
	bus      ports.ProgressBus
	prompts  *prompts.Catalog
	cfg      AnalysisConfig
	logger   *zap.Logger
	now      func() time.Time

	failures ports.PersistFailureRecorder
}

type AnalysisDeps struct {
	Documents ports.DocumentRepository
	Jobs      ports.AnalysisJobStore
	Chunks    ports.ChunkStore
	Metadata  ports.MetadataStore
	Search    AspectSearcher
	LLM       ports.Completer
	Queue     ports.AnalysisQueue
	Bus       ports.ProgressBus
	Prompts   *prompts.Catalog
}

func NewAnalysisOrchestrator(deps AnalysisDeps, cfg AnalysisConfig, logger *zap.Logger) *AnalysisOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisOrchestrator{
		docs:     deps.Documents,
		jobs:     deps.Jobs,
		chunks:   deps.Chunks,
		metadata: deps.Metadata,
		search:   deps.Search,
		llm:      deps.LLM,
		queue:    deps.Queue,
		bus:      deps.Bus,
		prompts:  deps.Prompts,
		cfg:      cfg.normalize(),
		logger:   logger,
		now:      time.Now,
	}
}

// StartAnalysis creates a queued job and hands it to the analysis workers.
func (uc *AnalysisOrchestrator) StartAnalysis(ctx context.Context, documentID string) (*domain.AnalysisJob, error) {
	if _, err := uc.docs.GetByID(ctx, documentID); err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	job := &domain.AnalysisJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     domain.AnalysisQueued,
		Message:    "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := uc.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create analysis job: %w", err)
	}
	if err := uc.queue.PublishAnalysisJob(ctx, job.ID); err != nil {
		job.Status = domain.AnalysisFailed
		job.Error = fmt.Sprintf("dispatch failed: %v", err)
		job.UpdatedAt = uc.now().UTC()
		if updErr := uc.jobs.UpdateJob(ctx, job); updErr != nil {
			uc.logger.Error("analysis_job_update_failed", zap.String("job_id", job.ID), zap.Error(updErr))
		}
		return nil, domain.WrapError(domain.ErrTemporary, "publish analysis job", err)
	}
	return job, nil
}

// SetFailureRecorder counts analysis results that could not be saved. r may
// be nil.
func (uc *AnalysisOrchestrator) SetFailureRecorder(r ports.PersistFailureRecorder) {
	uc.failures = r
}

func (uc *AnalysisOrchestrator) GetJob(ctx context.Context, jobID string) (*domain.AnalysisJob, error) {
	return uc.jobs.GetJob(ctx, jobID)
}

type analysisAspect struct {
	prompt   string
	message  string
	progress int
}

var analysisAspects = []analysisAspect{
	{prompt: prompts.AnalysisRisks, message: "assessing risks", progress: 40},
	{prompt: prompts.AnalysisIssues, message: "extracting issues", progress: 65},
	{prompt: prompts.AnalysisRequirements, message: "extracting requirements", progress: 90},
}

type risksPayload struct {
	RiskScore *float64         `json:"risk_score"`
	Risks     []domain.Finding `json:"risks"`
}

type issuesPayload struct {
	Issues []domain.Finding `json:"issues"`
}

type requirementsPayload struct {
	Requirements []domain.Requirement `json:"requirements"`
}

// RunJob executes a queued job. Jobs already in a terminal state are left
// untouched, so redelivered messages are harmless.
func (uc *AnalysisOrchestrator) RunJob(ctx context.Context, jobID string) error {
	job, err := uc.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		uc.logger.Info("analysis_job_skipped", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return nil
	}

	job.Status = domain.AnalysisRunning
	uc.progress(ctx, job, 5, "loading document")

	result, err := uc.analyze(ctx, job)
	if err != nil {
		uc.fail(ctx, job, err)
		return fmt.Errorf("analysis job %s: %w", jobID, err)
	}

	if err := uc.metadata.SaveAnalysis(ctx, job.DocumentID, result); err != nil {
		uc.logger.Error("analysis_persist_failed", zap.String("document_id", job.DocumentID), zap.Error(err))
		if uc.failures != nil {
			uc.failures.RecordPersistFailure("analysis")
		}
	}
	uc.markAnalyzed(ctx, job.DocumentID)

	job.Status = domain.AnalysisCompleted
	job.Progress = 100
	job.Message = "completed"
	job.Result = result
	job.UpdatedAt = uc.now().UTC()
	if err := uc.jobs.UpdateJob(ctx, job); err != nil {
		uc.logger.Error("analysis_job_update_failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	uc.publish(ctx, job.SnapshotEvent())
	return nil
}

func (uc *AnalysisOrchestrator) analyze(ctx context.Context, job *domain.AnalysisJob) (*domain.AnalysisResult, error) {
	doc, err := uc.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		return nil, err
	}
	chunks, err := uc.chunks.GetChunksByDocument(ctx, doc.ID, uc.cfg.MaxChunks)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "load chunks", err)
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load chunks", fmt.Errorf("document %s has no indexed chunks", doc.ID))
	}
	title := uc.documentTitle(ctx, doc)
	uc.progress(ctx, job, 15, fmt.Sprintf("loaded %d chunks", len(chunks)))

	result := &domain.AnalysisResult{
		Risks:        []domain.Finding{},
		Issues:       []domain.Finding{},
		Requirements: []domain.Requirement{},
	}
	var riskScore *float64
	for _, aspect := range analysisAspects {
		excerpts, err := uc.groundAspect(ctx, aspect.prompt, doc.ID, chunks)
		if err != nil {
			return nil, err
		}
		req, err := uc.prompts.Render(aspect.prompt, map[string]any{"Title": title, "Chunks": excerpts})
		if err != nil {
			return nil, err
		}

		op := "analysis " + aspect.prompt
		switch aspect.prompt {
		case prompts.AnalysisRisks:
			var p risksPayload
			if _, err := completeJSON(ctx, uc.llm, op, req, &p); err != nil {
				return nil, err
			}
			riskScore = p.RiskScore
			result.Risks = append(result.Risks, p.Risks...)
		case prompts.AnalysisIssues:
			var p issuesPayload
			if _, err := completeJSON(ctx, uc.llm, op, req, &p); err != nil {
				return nil, err
			}
			result.Issues = append(result.Issues, p.Issues...)
		case prompts.AnalysisRequirements:
			var p requirementsPayload
			if _, err := completeJSON(ctx, uc.llm, op, req, &p); err != nil {
				return nil, err
			}
			for _, r := range p.Requirements {
				r.Skills = normalizeTags(r.Skills)
				result.Requirements = append(result.Requirements, r)
			}
		}
		uc.progress(ctx, job, aspect.progress, aspect.message)
	}

	result.RiskScore = scoreRisk(riskScore, result.Risks)
	result.RiskLevel = riskLevel(result.RiskScore)
	return result, nil
}

// groundAspect picks diverse excerpts for one aspect. The leading chunks are
// used when the search finds nothing above the floor.
func (uc *AnalysisOrchestrator) groundAspect(ctx context.Context, prompt, documentID string, chunks []domain.Chunk) ([]domain.RetrievedResult, error) {
	query := uc.prompts.Query(prompt)
	if query != "" && uc.search != nil {
		results, err := uc.search.SearchTextMMR(ctx, query, domain.MMROptions{
			TopK:        uc.cfg.AspectTopK,
			DocumentIDs: []string{documentID},
		})
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return results, nil
		}
	}

	out := make([]domain.RetrievedResult, 0, min(len(chunks), uc.cfg.AspectTopK))
	for _, c := range chunks {
		if len(out) == uc.cfg.AspectTopK {
			break
		}
		out = append(out, domain.RetrievedResult{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			ChunkIndex: c.Index,
			Text:       c.Text,
		})
	}
	return out, nil
}

func (uc *AnalysisOrchestrator) documentTitle(ctx context.Context, doc *domain.Document) string {
	meta, err := uc.metadata.GetMetadata(ctx, doc.ID)
	if err == nil && meta != nil && strings.TrimSpace(meta.Title) != "" {
		return meta.Title
	}
	return doc.Filename
}

func (uc *AnalysisOrchestrator) markAnalyzed(ctx context.Context, documentID string) {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		uc.logger.Warn("analysis_document_lookup_failed", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	if doc.Status == domain.StatusMatched {
		return
	}
	if err := uc.docs.UpdateStatus(ctx, documentID, domain.StatusAnalyzed, ""); err != nil {
		uc.logger.Error("document_status_update_failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

func (uc *AnalysisOrchestrator) progress(ctx context.Context, job *domain.AnalysisJob, progress int, message string) {
	if progress < job.Progress {
		progress = job.Progress
	}
	job.Progress = progress
	job.Message = message
	job.UpdatedAt = uc.now().UTC()
	if err := uc.jobs.UpdateJob(ctx, job); err != nil {
		uc.logger.Warn("analysis_job_update_failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	uc.publish(ctx, job.SnapshotEvent())
}

func (uc *AnalysisOrchestrator) fail(ctx context.Context, job *domain.AnalysisJob, cause error) {
	job.Status = domain.AnalysisFailed
	job.Error = cause.Error()
	job.Message = "failed"
	job.UpdatedAt = uc.now().UTC()
	// The job context may already be cancelled; the failure must still land.
	persistCtx := context.WithoutCancel(ctx)
	if err := uc.jobs.UpdateJob(persistCtx, job); err != nil {
		uc.logger.Error("analysis_job_update_failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	uc.publish(persistCtx, job.SnapshotEvent())
	uc.logger.Error("analysis_job_failed",
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
		zap.Error(cause),
	)
}

func (uc *AnalysisOrchestrator) publish(ctx context.Context, ev domain.AnalysisEvent) {
	if err := uc.bus.PublishAnalysisEvent(ctx, ev); err != nil {
		uc.logger.Warn("analysis_event_publish_failed",
			zap.String("job_id", ev.JobID),
			zap.String("status", string(ev.Status)),
			zap.Error(err),
		)
	}
}

var severityWeight = map[string]float64{"low": 0.2, "medium": 0.5, "high": 0.8}

// scoreRisk clamps the reported score into [0,1]. Without one, the score is
// the mean severity weight of the listed risks.
func scoreRisk(reported *float64, risks []domain.Finding) float64 {
	if reported != nil && !math.IsNaN(*reported) {
		return math.Max(0, math.Min(1, *reported))
	}
	if len(risks) == 0 {
		return 0
	}
	var sum float64
	for _, r := range risks {
		w, ok := severityWeight[strings.ToLower(strings.TrimSpace(r.Severity))]
		if !ok {
			w = severityWeight["medium"]
		}
		sum += w
	}
	return sum / float64(len(risks))
}

func riskLevel(score float64) string {
	switch {
	case score < 0.34:
		return "low"
	case score < 0.67:
		return "medium"
	default:
		return "high"
	}
}

// WaitForAnalysis blocks until the job finishes, forwarding every event to
// onEvent. A failed job yields an error whose text is the job's error.
func (uc *AnalysisOrchestrator) WaitForAnalysis(ctx context.Context, jobID string, onEvent func(domain.AnalysisEvent)) (*domain.AnalysisResult, error) {
	sub, err := uc.Subscribe(ctx, jobID, uc.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	for ev := range sub.Events() {
		if onEvent != nil {
			onEvent(ev)
		}
		switch ev.Status {
		case domain.EventCompleted:
			if ev.Result != nil {
				return ev.Result, nil
			}
			job, err := uc.jobs.GetJob(ctx, jobID)
			if err != nil {
				return nil, err
			}
			return job.Result, nil
		case domain.EventFailed:
			return nil, &domain.AnalysisFailedError{JobID: jobID, Message: ev.Error}
		}
	}
	if err := sub.Err(); err != nil {
		return nil, err
	}
	return nil, domain.WrapError(domain.ErrTemporary, "wait for analysis", errors.New("event stream closed before the job finished"))
}

// AnalysisSubscription is a live view of one job's events. Events closes
// after a terminal event, on deadline expiry, on caller cancellation or on
// Close. Err reports why the stream ended early.
type AnalysisSubscription struct {
	events chan domain.AnalysisEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *AnalysisSubscription) Events() <-chan domain.AnalysisEvent {
	return s.events
}

// Err is valid once Events is closed. A deadline expiry yields domain.ErrTimeout.
func (s *AnalysisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the subscription. The job keeps running.
func (s *AnalysisSubscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	<-s.done
}

func (s *AnalysisSubscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.err = err
	}
}

// Subscribe opens a stream for jobID bounded by timeout. The persisted job
// state is replayed first, so a subscriber arriving after the job finished
// still receives its terminal event.
func (uc *AnalysisOrchestrator) Subscribe(ctx context.Context, jobID string, timeout time.Duration) (*AnalysisSubscription, error) {
	if timeout <= 0 {
		timeout = uc.cfg.Timeout
	}
	subCtx, cancel := context.WithTimeout(ctx, timeout)

	// Subscribe before reading the snapshot so no event falls between the two.
	stream, release, err := uc.bus.SubscribeAnalysisEvents(subCtx, jobID)
	if err != nil {
		cancel()
		return nil, domain.WrapError(domain.ErrTemporary, "subscribe analysis events", err)
	}
	job, err := uc.jobs.GetJob(ctx, jobID)
	if err != nil {
		release()
		cancel()
		return nil, err
	}

	sub := &AnalysisSubscription{
		events: make(chan domain.AnalysisEvent, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.pump(ctx, subCtx, stream, release, job.SnapshotEvent())
	return sub, nil
}

func (s *AnalysisSubscription) pump(parent, ctx context.Context, stream <-chan domain.AnalysisEvent, release func(), snapshot domain.AnalysisEvent) {
	defer close(s.done)
	defer close(s.events)
	defer release()
	defer s.cancel()

	expired := func() {
		if parent.Err() != nil {
			s.setErr(parent.Err())
			return
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.setErr(domain.WrapError(domain.ErrTimeout, "analysis subscription", ctx.Err()))
		}
	}
	send := func(ev domain.AnalysisEvent) bool {
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			expired()
			return false
		}
	}

	if !send(snapshot) || snapshot.Terminal() {
		return
	}
	last := snapshot.Progress
	for {
		select {
		case <-ctx.Done():
			expired()
			return
		case ev, ok := <-stream:
			if !ok {
				expired()
				return
			}
			if !ev.Terminal() && ev.Progress < last {
				continue
			}
			last = ev.Progress
			if !send(ev) || ev.Terminal() {
				return
			}
		}
	}
}
