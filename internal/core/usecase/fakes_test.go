package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/prompts"
)

func defaultCatalog() *prompts.Catalog {
	c, err := prompts.Default()
	if err != nil {
		panic(err)
	}
	return c
}

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

type memDocs struct {
	mu          sync.Mutex
	docs        map[string]*domain.Document
	statusCalls []statusCall
	statusErr   error
}

func newMemDocs(docs ...*domain.Document) *memDocs {
	m := &memDocs{docs: map[string]*domain.Document{}}
	for _, d := range docs {
		m.docs[d.ID] = d
	}
	return m
}

func (m *memDocs) Create(_ context.Context, doc *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copyDoc := *doc
	m.docs[doc.ID] = &copyDoc
	return nil
}

func (m *memDocs) GetByID(_ context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (m *memDocs) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls = append(m.statusCalls, statusCall{status: status, errMsg: errMessage})
	if m.statusErr != nil {
		return m.statusErr
	}
	if doc, ok := m.docs[id]; ok {
		doc.Status = status
		doc.Error = errMessage
	}
	return nil
}

func (m *memDocs) SetChunkCount(_ context.Context, id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[id]; ok {
		doc.ChunkCount = count
	}
	return nil
}

func (m *memDocs) status(id string) domain.DocumentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id].Status
}

type memChunks struct {
	mu         sync.Mutex
	chunks     map[string][]domain.Chunk
	searchErr  error
	keywordErr error
	lastK      int
}

func newMemChunks() *memChunks {
	return &memChunks{chunks: map[string][]domain.Chunk{}}
}

func (m *memChunks) InsertChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[documentID] = append([]domain.Chunk(nil), chunks...)
	return nil
}

func (m *memChunks) add(documentID string, texts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, text := range texts {
		idx := len(m.chunks[documentID])
		m.chunks[documentID] = append(m.chunks[documentID], domain.Chunk{
			ID:         fmt.Sprintf("%s-%d", documentID, idx),
			DocumentID: documentID,
			Index:      idx,
			Type:       domain.ChunkTypeChunk,
			Text:       text,
		})
	}
}

func (m *memChunks) addVector(documentID, id string, vector []float32, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.chunks[documentID])
	m.chunks[documentID] = append(m.chunks[documentID], domain.Chunk{
		ID:         id,
		DocumentID: documentID,
		Index:      idx,
		Text:       text,
		Embedding:  vector,
	})
}

func (m *memChunks) selected(documentIDs []string) []domain.Chunk {
	var out []domain.Chunk
	if len(documentIDs) == 0 {
		for _, cs := range m.chunks {
			out = append(out, cs...)
		}
		return out
	}
	for _, id := range documentIDs {
		out = append(out, m.chunks[id]...)
	}
	return out
}

func (m *memChunks) CosineSearch(_ context.Context, vector []float32, k int, documentIDs []string) ([]domain.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastK = k
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var out []domain.ScoredChunk
	for _, c := range m.selected(documentIDs) {
		out = append(out, domain.ScoredChunk{
			RetrievedResult: domain.RetrievedResult{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				ChunkIndex: c.Index,
				Text:       c.Text,
				Score:      cosineSimilarity(vector, c.Embedding),
			},
			Embedding: c.Embedding,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memChunks) KeywordSearch(_ context.Context, terms []string, k int, documentIDs []string) ([]domain.RetrievedResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keywordErr != nil {
		return nil, m.keywordErr
	}
	var out []domain.RetrievedResult
	for _, c := range m.selected(documentIDs) {
		lower := strings.ToLower(c.Text)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				out = append(out, domain.RetrievedResult{
					ChunkID:    c.ID,
					DocumentID: c.DocumentID,
					ChunkIndex: c.Index,
					Text:       c.Text,
				})
				break
			}
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memChunks) GetChunksByDocument(_ context.Context, documentID string, limit int) ([]domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	cs := m.chunks[documentID]
	if limit > 0 && len(cs) > limit {
		cs = cs[:limit]
	}
	return append([]domain.Chunk(nil), cs...), nil
}

func (m *memChunks) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, documentID)
	return nil
}

type memMetadata struct {
	mu        sync.Mutex
	records   map[string]*domain.AnnouncementMetadata
	upsertErr error
	upserts   int
}

func newMemMetadata() *memMetadata {
	return &memMetadata{records: map[string]*domain.AnnouncementMetadata{}}
}

func (m *memMetadata) UpsertMetadata(_ context.Context, meta *domain.AnnouncementMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	copyMeta := *meta
	if prev, ok := m.records[meta.DocumentID]; ok && copyMeta.Analysis == nil {
		copyMeta.Analysis = prev.Analysis
	}
	m.records[meta.DocumentID] = &copyMeta
	return nil
}

func (m *memMetadata) SaveAnalysis(_ context.Context, documentID string, result *domain.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[documentID]
	if !ok {
		rec = &domain.AnnouncementMetadata{DocumentID: documentID}
		m.records[documentID] = rec
	}
	rec.Analysis = result
	return nil
}

func (m *memMetadata) GetMetadata(_ context.Context, documentID string) (*domain.AnnouncementMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get metadata", fmt.Errorf("document_id=%s", documentID))
	}
	copyMeta := *rec
	return &copyMeta, nil
}

type memCandidates struct {
	list []domain.Candidate
}

func (m *memCandidates) ListCandidates(context.Context) ([]domain.Candidate, error) {
	return append([]domain.Candidate(nil), m.list...), nil
}

func (m *memCandidates) GetCandidate(_ context.Context, id string) (*domain.Candidate, error) {
	for _, c := range m.list {
		if c.ID == id {
			copyC := c
			return &copyC, nil
		}
	}
	return nil, domain.WrapError(domain.ErrCandidateNotFound, "get candidate", fmt.Errorf("id=%s", id))
}

func (m *memCandidates) UpsertCandidate(_ context.Context, c *domain.Candidate) error {
	for i := range m.list {
		if m.list[i].ID == c.ID {
			m.list[i] = *c
			return nil
		}
	}
	m.list = append(m.list, *c)
	return nil
}

type memMatches struct {
	mu   sync.Mutex
	rows map[string]map[string]domain.MatchedCandidate
}

func newMemMatches() *memMatches {
	return &memMatches{rows: map[string]map[string]domain.MatchedCandidate{}}
}

func (m *memMatches) UpsertMatches(_ context.Context, documentID string, matches []domain.MatchedCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[documentID] == nil {
		m.rows[documentID] = map[string]domain.MatchedCandidate{}
	}
	for _, match := range matches {
		m.rows[documentID][match.CandidateID] = match
	}
	return nil
}

func (m *memMatches) ListMatches(_ context.Context, documentID string) ([]domain.MatchedCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MatchedCandidate, 0, len(m.rows[documentID]))
	for _, match := range m.rows[documentID] {
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	return out, nil
}

func (m *memMatches) GetMatch(_ context.Context, documentID, candidateID string) (*domain.MatchedCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.rows[documentID][candidateID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get match", errors.New("no match"))
	}
	return &match, nil
}

type memDrafts struct {
	mu      sync.Mutex
	rows    map[string]*domain.EstimateDraft
	upserts int
}

func newMemDrafts() *memDrafts {
	return &memDrafts{rows: map[string]*domain.EstimateDraft{}}
}

func (m *memDrafts) UpsertDraft(_ context.Context, draft *domain.EstimateDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	copyDraft := *draft
	m.rows[draft.DocumentID+"/"+draft.CandidateID] = &copyDraft
	return nil
}

func (m *memDrafts) GetDraft(_ context.Context, documentID, candidateID string) (*domain.EstimateDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft, ok := m.rows[documentID+"/"+candidateID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get draft", errors.New("no draft"))
	}
	copyDraft := *draft
	return &copyDraft, nil
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.AnalysisJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]*domain.AnalysisJob{}}
}

func (m *memJobs) CreateJob(_ context.Context, job *domain.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copyJob := *job
	m.jobs[job.ID] = &copyJob
	return nil
}

func (m *memJobs) GetJob(_ context.Context, id string) (*domain.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get analysis job", fmt.Errorf("id=%s", id))
	}
	copyJob := *job
	return &copyJob, nil
}

func (m *memJobs) UpdateJob(_ context.Context, job *domain.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copyJob := *job
	m.jobs[job.ID] = &copyJob
	return nil
}

type recordingQueue struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (q *recordingQueue) PublishAnalysisJob(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, jobID)
	return nil
}

func (q *recordingQueue) SubscribeAnalysisJobs(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type memBus struct {
	mu     sync.Mutex
	subs   map[string][]chan domain.AnalysisEvent
	events []domain.AnalysisEvent
}

func newMemBus() *memBus {
	return &memBus{subs: map[string][]chan domain.AnalysisEvent{}}
}

func (b *memBus) PublishAnalysisEvent(_ context.Context, ev domain.AnalysisEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	for _, ch := range b.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *memBus) SubscribeAnalysisEvents(_ context.Context, jobID string) (<-chan domain.AnalysisEvent, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan domain.AnalysisEvent, 64)
	b.subs[jobID] = append(b.subs[jobID], ch)
	var once sync.Once
	release := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[jobID]
			for i, c := range list {
				if c == ch {
					b.subs[jobID] = append(list[:i], list[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, release, nil
}

func (b *memBus) subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

func (b *memBus) published() []domain.AnalysisEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.AnalysisEvent(nil), b.events...)
}

// scriptedLLM answers completions through respond and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	requests []domain.CompletionRequest
	respond  func(req domain.CompletionRequest) (string, error)
}

func (l *scriptedLLM) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()
	return l.respond(req)
}

func (l *scriptedLLM) calls() []domain.CompletionRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.CompletionRequest(nil), l.requests...)
}

func staticLLM(reply string) *scriptedLLM {
	return &scriptedLLM{respond: func(domain.CompletionRequest) (string, error) { return reply, nil }}
}

// mapEmbedder returns the vector registered for a text, or fallback.
type mapEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (e *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return e.fallback, nil
}

func (e *mapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type memStorage struct {
	mu    sync.Mutex
	files map[string]string
	err   error
}

func newMemStorage() *memStorage {
	return &memStorage{files: map[string]string{}}
}

func (s *memStorage) Save(_ context.Context, key string, data io.Reader) error {
	if s.err != nil {
		return s.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = string(raw)
	return nil
}

func (s *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.files[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func ptr[T any](v T) *T {
	return &v
}
