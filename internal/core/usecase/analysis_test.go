package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

type searcherFake struct {
	mu      sync.Mutex
	queries []string
	docIDs  [][]string
	results []domain.RetrievedResult
	err     error
}

func (s *searcherFake) SearchTextMMR(_ context.Context, query string, opts domain.MMROptions) ([]domain.RetrievedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	s.docIDs = append(s.docIDs, opts.DocumentIDs)
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func analysisReplies(req domain.CompletionRequest) (string, error) {
	switch {
	case strings.Contains(req.User, `"risk_score"`):
		return `{"risk_score": 0.8, "risks": [{"title": "Fixed price", "severity": "high"}]}`, nil
	case strings.Contains(req.User, `"issues"`):
		return `{"issues": [{"title": "No acceptance criteria", "severity": "medium"}]}`, nil
	case strings.Contains(req.User, `"requirements"`):
		return `{"requirements": [{"title": "Go backend", "mandatory": true, "skills": ["Go", "go", "Kafka"]}]}`, nil
	}
	return "", errors.New("unexpected prompt")
}

type analysisFixture struct {
	uc       *AnalysisOrchestrator
	docs     *memDocs
	jobs     *memJobs
	metadata *memMetadata
	queue    *recordingQueue
	bus      *memBus
	llm      *scriptedLLM
	search   *searcherFake
}

func newAnalysisFixture() *analysisFixture {
	f := &analysisFixture{
		docs:     newMemDocs(&domain.Document{ID: "doc-1", Filename: "tender.pdf", Status: domain.StatusReady}),
		jobs:     newMemJobs(),
		metadata: newMemMetadata(),
		queue:    &recordingQueue{},
		bus:      newMemBus(),
		llm:      &scriptedLLM{respond: analysisReplies},
		search: &searcherFake{results: []domain.RetrievedResult{
			{ChunkID: "c1", DocumentID: "doc-1", ChunkIndex: 2, Text: "penalty of 5% per week"},
		}},
	}
	chunks := newMemChunks()
	chunks.add("doc-1", "intro", "scope")
	f.uc = NewAnalysisOrchestrator(AnalysisDeps{
		Documents: f.docs,
		Jobs:      f.jobs,
		Chunks:    chunks,
		Metadata:  f.metadata,
		Search:    f.search,
		LLM:       f.llm,
		Queue:     f.queue,
		Bus:       f.bus,
		Prompts:   defaultCatalog(),
	}, AnalysisConfig{}, nil)
	return f
}

func (f *analysisFixture) queuedJob(t *testing.T) *domain.AnalysisJob {
	t.Helper()
	job, err := f.uc.StartAnalysis(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("StartAnalysis() error = %v", err)
	}
	return job
}

func TestStartAnalysisQueuesJob(t *testing.T) {
	f := newAnalysisFixture()
	job := f.queuedJob(t)

	if job.Status != domain.AnalysisQueued || job.DocumentID != "doc-1" {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(f.queue.published) != 1 || f.queue.published[0] != job.ID {
		t.Fatalf("expected job to be dispatched, got %v", f.queue.published)
	}
}

func TestStartAnalysisUnknownDocument(t *testing.T) {
	f := newAnalysisFixture()
	if _, err := f.uc.StartAnalysis(context.Background(), "nope"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestStartAnalysisDispatchFailureFailsJob(t *testing.T) {
	f := newAnalysisFixture()
	f.queue.err = errors.New("nats down")

	if _, err := f.uc.StartAnalysis(context.Background(), "doc-1"); !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	for _, job := range f.jobs.jobs {
		if job.Status != domain.AnalysisFailed {
			t.Fatalf("expected undispatched job to be failed, got %s", job.Status)
		}
	}
}

func TestRunJobCompletesAndEnrichesMetadata(t *testing.T) {
	f := newAnalysisFixture()
	job := f.queuedJob(t)

	if err := f.uc.RunJob(context.Background(), job.ID); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	stored, _ := f.jobs.GetJob(context.Background(), job.ID)
	if stored.Status != domain.AnalysisCompleted || stored.Progress != 100 {
		t.Fatalf("expected completed job, got %+v", stored)
	}
	result := stored.Result
	if result.RiskScore != 0.8 || result.RiskLevel != "high" {
		t.Fatalf("unexpected risk %v/%s", result.RiskScore, result.RiskLevel)
	}
	if len(result.Risks) != 1 || len(result.Issues) != 1 || len(result.Requirements) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := result.Requirements[0].Skills; len(got) != 2 {
		t.Fatalf("expected normalized requirement skills, got %v", got)
	}

	meta, err := f.metadata.GetMetadata(context.Background(), "doc-1")
	if err != nil || meta.Analysis == nil {
		t.Fatalf("expected analysis saved on metadata, got %v %v", meta, err)
	}
	if f.docs.status("doc-1") != domain.StatusAnalyzed {
		t.Fatalf("expected document analyzed, got %s", f.docs.status("doc-1"))
	}

	if len(f.search.queries) != 3 {
		t.Fatalf("expected one grounding search per aspect, got %d", len(f.search.queries))
	}
	for _, ids := range f.search.docIDs {
		if len(ids) != 1 || ids[0] != "doc-1" {
			t.Fatalf("expected searches restricted to the document, got %v", ids)
		}
	}

	events := f.bus.published()
	last := events[len(events)-1]
	if last.Status != domain.EventCompleted || last.Result == nil {
		t.Fatalf("expected terminal completed event, got %+v", last)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Progress < events[i-1].Progress {
			t.Fatalf("event progress decreased: %+v", events)
		}
	}
}

func TestRunJobKeepsMatchedStatus(t *testing.T) {
	f := newAnalysisFixture()
	f.docs.docs["doc-1"].Status = domain.StatusMatched
	job := f.queuedJob(t)

	if err := f.uc.RunJob(context.Background(), job.ID); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if f.docs.status("doc-1") != domain.StatusMatched {
		t.Fatalf("expected matched status to be kept, got %s", f.docs.status("doc-1"))
	}
}

func TestRunJobFailureEmitsFailedEvent(t *testing.T) {
	f := newAnalysisFixture()
	f.llm.respond = func(req domain.CompletionRequest) (string, error) {
		if strings.Contains(req.User, `"issues"`) {
			return "", errors.New("model overloaded")
		}
		return analysisReplies(req)
	}
	job := f.queuedJob(t)

	err := f.uc.RunJob(context.Background(), job.ID)
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	stored, _ := f.jobs.GetJob(context.Background(), job.ID)
	if stored.Status != domain.AnalysisFailed || !strings.Contains(stored.Error, "model overloaded") {
		t.Fatalf("expected failed job with cause, got %+v", stored)
	}

	// A subscriber arriving after the failure still sees it.
	_, err = f.uc.WaitForAnalysis(context.Background(), job.ID, nil)
	var failed *domain.AnalysisFailedError
	if !errors.As(err, &failed) || failed.Message != stored.Error {
		t.Fatalf("expected AnalysisFailedError %q, got %v", stored.Error, err)
	}
}

func TestRunJobSkipsTerminalJob(t *testing.T) {
	f := newAnalysisFixture()
	job := f.queuedJob(t)
	if err := f.uc.RunJob(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}
	calls := len(f.llm.calls())

	if err := f.uc.RunJob(context.Background(), job.ID); err != nil {
		t.Fatalf("expected redelivery to be a no-op, got %v", err)
	}
	if len(f.llm.calls()) != calls {
		t.Fatalf("expected no further completions")
	}
}

func TestRunJobWithoutChunksFails(t *testing.T) {
	f := newAnalysisFixture()
	f.docs.docs["doc-2"] = &domain.Document{ID: "doc-2", Filename: "empty.txt"}
	job, err := f.uc.StartAnalysis(context.Background(), "doc-2")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.uc.RunJob(context.Background(), job.ID); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func waitForSubscriber(t *testing.T, bus *memBus, jobID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bus.subscribers(jobID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber for job %s", jobID)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWaitForAnalysisFailedEventMessage(t *testing.T) {
	f := newAnalysisFixture()
	job := f.queuedJob(t)

	var (
		mu       sync.Mutex
		received []domain.AnalysisEvent
	)
	errCh := make(chan error, 1)
	go func() {
		_, err := f.uc.WaitForAnalysis(context.Background(), job.ID, func(ev domain.AnalysisEvent) {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
		})
		errCh <- err
	}()

	waitForSubscriber(t, f.bus, job.ID)
	_ = f.bus.PublishAnalysisEvent(context.Background(), domain.AnalysisEvent{JobID: job.ID, Status: domain.EventProgress, Progress: 50})
	_ = f.bus.PublishAnalysisEvent(context.Background(), domain.AnalysisEvent{JobID: job.ID, Status: domain.EventFailed, Error: "x"})

	err := <-errCh
	if err == nil || err.Error() != "x" {
		t.Fatalf("expected error with message exactly %q, got %v", "x", err)
	}
	if !errors.Is(err, domain.ErrAnalysis) {
		t.Fatalf("expected ErrAnalysis kind")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 || received[1].Progress != 50 {
		t.Fatalf("expected snapshot, progress and failure events, got %+v", received)
	}
}

func TestWaitForAnalysisReturnsResult(t *testing.T) {
	f := newAnalysisFixture()
	job := f.queuedJob(t)

	resultCh := make(chan *domain.AnalysisResult, 1)
	go func() {
		res, err := f.uc.WaitForAnalysis(context.Background(), job.ID, nil)
		if err != nil {
			t.Errorf("WaitForAnalysis() error = %v", err)
		}
		resultCh <- res
	}()

	waitForSubscriber(t, f.bus, job.ID)
	if err := f.uc.RunJob(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}
	res := <-resultCh
	if res == nil || res.RiskLevel != "high" {
		t.Fatalf("expected analysis result, got %+v", res)
	}
}

func TestSubscribeTimesOut(t *testing.T) {
	f := newAnalysisFixture()
	job := f.queuedJob(t)

	sub, err := f.uc.Subscribe(context.Background(), job.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	var events int
	for range sub.Events() {
		events++
	}
	if events != 1 {
		t.Fatalf("expected only the snapshot event, got %d", events)
	}
	if !errors.Is(sub.Err(), domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", sub.Err())
	}
	if f.bus.subscribers(job.ID) != 0 {
		t.Fatalf("expected bus subscription released")
	}

	stored, _ := f.jobs.GetJob(context.Background(), job.ID)
	if stored.Status != domain.AnalysisQueued {
		t.Fatalf("timeout must not touch the job, got %s", stored.Status)
	}
}

func TestSubscribeCallerCancellation(t *testing.T) {
	f := newAnalysisFixture()
	job := f.queuedJob(t)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := f.uc.Subscribe(ctx, job.ID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	<-sub.Events()
	cancel()
	for range sub.Events() {
	}
	if !errors.Is(sub.Err(), context.Canceled) || errors.Is(sub.Err(), domain.ErrTimeout) {
		t.Fatalf("expected context.Canceled, got %v", sub.Err())
	}
}

func TestSubscribeCloseIsClean(t *testing.T) {
	f := newAnalysisFixture()
	job := f.queuedJob(t)

	sub, err := f.uc.Subscribe(context.Background(), job.ID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	sub.Close()
	sub.Close()
	if sub.Err() != nil {
		t.Fatalf("expected no error after Close, got %v", sub.Err())
	}
	if f.bus.subscribers(job.ID) != 0 {
		t.Fatalf("expected bus subscription released")
	}
}

func TestSubscribeReplaysCompletedJob(t *testing.T) {
	f := newAnalysisFixture()
	job := f.queuedJob(t)
	if err := f.uc.RunJob(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}

	sub, err := f.uc.Subscribe(context.Background(), job.ID, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var got []domain.AnalysisEvent
	for ev := range sub.Events() {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Status != domain.EventCompleted || got[0].Result == nil {
		t.Fatalf("expected replayed completed event, got %+v", got)
	}
	if sub.Err() != nil {
		t.Fatalf("unexpected error %v", sub.Err())
	}
}

func TestRiskLevelBands(t *testing.T) {
	cases := map[float64]string{0: "low", 0.33: "low", 0.34: "medium", 0.66: "medium", 0.67: "high", 1: "high"}
	for score, want := range cases {
		if got := riskLevel(score); got != want {
			t.Fatalf("riskLevel(%v) = %s, want %s", score, got, want)
		}
	}
	if got := scoreRisk(nil, []domain.Finding{{Severity: "high"}, {Severity: "low"}}); got != 0.5 {
		t.Fatalf("expected mean severity 0.5, got %v", got)
	}
	if got := scoreRisk(ptr(3.0), nil); got != 1 {
		t.Fatalf("expected clamped score 1, got %v", got)
	}
}
