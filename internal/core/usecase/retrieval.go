package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

type RetrievalConfig struct {
	TopK             int
	Threshold        float64
	MMRLambda        float64
	MMRMinFetchK     int
	FusionWeights    domain.FusionWeights
	FusionStrategy   domain.FusionStrategy
	RRFK             int
	HybridCandidates int
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:             10,
		Threshold:        0.7,
		MMRLambda:        0.5,
		MMRMinFetchK:     20,
		FusionWeights:    DefaultFusionWeights(),
		FusionStrategy:   domain.FusionWeighted,
		RRFK:             60,
		HybridCandidates: 30,
	}
}

func (c RetrievalConfig) normalize() RetrievalConfig {
	def := DefaultRetrievalConfig()
	if c.TopK <= 0 {
		c.TopK = def.TopK
	}
	if math.IsNaN(c.Threshold) {
		c.Threshold = def.Threshold
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 || math.IsNaN(c.MMRLambda) {
		c.MMRLambda = def.MMRLambda
	}
	if c.MMRMinFetchK <= 0 {
		c.MMRMinFetchK = def.MMRMinFetchK
	}
	if c.FusionWeights.Vector < 0 || c.FusionWeights.Keyword < 0 ||
		c.FusionWeights.Vector+c.FusionWeights.Keyword == 0 {
		c.FusionWeights = def.FusionWeights
	}
	if c.FusionStrategy != domain.FusionRRF {
		c.FusionStrategy = domain.FusionWeighted
	}
	if c.RRFK <= 0 {
		c.RRFK = def.RRFK
	}
	if c.HybridCandidates <= 0 {
		c.HybridCandidates = def.HybridCandidates
	}
	return c
}

// Retriever runs vector, MMR, keyword and hybrid searches over a chunk store.
type Retriever struct {
	store    ports.ChunkStore
	embedder ports.Embedder
	cfg      RetrievalConfig
}

func NewRetriever(store ports.ChunkStore, embedder ports.Embedder, cfg RetrievalConfig) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		cfg:      cfg.normalize(),
	}
}

// Search returns at most TopK chunks by cosine similarity. The threshold is
// applied after ranking, so fewer than TopK results may remain.
func (r *Retriever) Search(ctx context.Context, vector []float32, opts domain.SearchOptions) ([]domain.RetrievedResult, error) {
	if len(vector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query vector is empty"))
	}
	topK := r.topK(opts.TopK)
	threshold := r.cfg.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	rows, err := r.store.CosineSearch(ctx, vector, topK, opts.DocumentIDs)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "cosine search", err)
	}

	results := relevanceResults(rows)
	sortResults(results)
	results = trimResults(results, topK)
	return applyThreshold(results, threshold), nil
}

// SearchMMR fetches a wider candidate pool and picks TopK of them by maximal
// marginal relevance.
func (r *Retriever) SearchMMR(ctx context.Context, vector []float32, opts domain.MMROptions) ([]domain.RetrievedResult, error) {
	if len(vector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search mmr", errors.New("query vector is empty"))
	}
	topK := r.topK(opts.TopK)
	lambda := r.cfg.MMRLambda
	if opts.Lambda != nil {
		lambda = *opts.Lambda
	}
	if lambda < 0 || lambda > 1 || math.IsNaN(lambda) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search mmr", fmt.Errorf("lambda must be within [0,1], got %v", lambda))
	}
	fetchK := opts.FetchK
	if fetchK <= 0 {
		fetchK = max(topK*4, r.cfg.MMRMinFetchK)
	}
	if fetchK < topK {
		fetchK = topK
	}

	rows, err := r.store.CosineSearch(ctx, vector, fetchK, opts.DocumentIDs)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "mmr candidate search", err)
	}
	return selectMMR(rows, topK, lambda), nil
}

func (r *Retriever) SearchText(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.RetrievedResult, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, vector, opts)
}

func (r *Retriever) SearchTextMMR(ctx context.Context, query string, opts domain.MMROptions) ([]domain.RetrievedResult, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.SearchMMR(ctx, vector, opts)
}

// KeywordSearch scores substring matches by the share of query terms a chunk
// contains. An explicit threshold drops weaker matches.
func (r *Retriever) KeywordSearch(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.RetrievedResult, error) {
	terms := keywordTerms(query)
	if len(terms) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "keyword search", errors.New("query has no searchable terms"))
	}
	topK := r.topK(opts.TopK)

	results, err := r.keywordChannel(ctx, terms, max(topK*5, r.cfg.HybridCandidates), opts.DocumentIDs)
	if err != nil {
		return nil, err
	}
	results = trimResults(results, topK)
	if opts.Threshold != nil {
		results = applyThreshold(results, *opts.Threshold)
	}
	return results, nil
}

// HybridSearch runs the vector and keyword channels concurrently and fuses
// them. The keyword channel is skipped when the query has no usable terms.
func (r *Retriever) HybridSearch(ctx context.Context, query string, opts domain.HybridOptions) ([]domain.RetrievedResult, error) {
	topK := r.topK(opts.TopK)
	candidates := opts.Candidates
	if candidates <= 0 {
		candidates = max(r.cfg.HybridCandidates, topK)
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	terms := keywordTerms(query)

	var vectorResults, keywordResults []domain.RetrievedResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := r.store.CosineSearch(gctx, vector, candidates, opts.DocumentIDs)
		if err != nil {
			return domain.WrapError(domain.ErrRetrieval, "hybrid vector channel", err)
		}
		vectorResults = relevanceResults(rows)
		sortResults(vectorResults)
		return nil
	})
	if len(terms) > 0 {
		g.Go(func() error {
			results, err := r.keywordChannel(gctx, terms, candidates, opts.DocumentIDs)
			if err != nil {
				return err
			}
			keywordResults = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = r.cfg.FusionStrategy
	}
	var fused []domain.RetrievedResult
	switch strategy {
	case domain.FusionRRF:
		fused = FuseRRF(vectorResults, keywordResults, r.cfg.RRFK)
	default:
		weights := r.cfg.FusionWeights
		if opts.Weights != nil {
			weights = *opts.Weights
		}
		fused = FuseWeighted(vectorResults, keywordResults, weights)
	}
	return trimResults(fused, topK), nil
}

func (r *Retriever) keywordChannel(ctx context.Context, terms []string, k int, documentIDs []string) ([]domain.RetrievedResult, error) {
	rows, err := r.store.KeywordSearch(ctx, terms, k, documentIDs)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "keyword search", err)
	}
	results := scoreKeywordMatches(terms, rows)
	sortResults(results)
	return results, nil
}

func (r *Retriever) topK(requested int) int {
	if requested <= 0 {
		return r.cfg.TopK
	}
	return requested
}

func relevanceResults(rows []domain.ScoredChunk) []domain.RetrievedResult {
	out := make([]domain.RetrievedResult, 0, len(rows))
	for _, row := range rows {
		res := row.RetrievedResult
		res.Relevance = res.Score
		out = append(out, res)
	}
	return out
}

// sortResults orders by score descending with chunk id as the tie-breaker.
func sortResults(results []domain.RetrievedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

func trimResults(results []domain.RetrievedResult, limit int) []domain.RetrievedResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

func applyThreshold(results []domain.RetrievedResult, threshold float64) []domain.RetrievedResult {
	out := make([]domain.RetrievedResult, 0, len(results))
	for _, res := range results {
		if res.Score >= threshold {
			out = append(out, res)
		}
	}
	return out
}
