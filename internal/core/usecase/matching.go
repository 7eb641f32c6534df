package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

type MatchingConfig struct {
	TopN     int
	MinScore float64
	Weights  domain.MatchWeights
}

func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{TopN: 10, MinScore: 0.3, Weights: domain.DefaultMatchWeights()}
}

// TeamMatcher ranks candidate teams against an announcement's metadata.
type TeamMatcher struct {
	docs       ports.DocumentRepository
	metadata   ports.MetadataStore
	candidates ports.CandidateDirectory
	matches    ports.MatchStore
	cfg        MatchingConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewTeamMatcher(
	docs ports.DocumentRepository,
	metadata ports.MetadataStore,
	candidates ports.CandidateDirectory,
	matches ports.MatchStore,
	cfg MatchingConfig,
	logger *zap.Logger,
) *TeamMatcher {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultMatchingConfig().TopN
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		cfg.MinScore = DefaultMatchingConfig().MinScore
	}
	cfg.Weights = cfg.Weights.Normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeamMatcher{
		docs:       docs,
		metadata:   metadata,
		candidates: candidates,
		matches:    matches,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// MatchTeams scores every known candidate, keeps those at or above the
// minimum score and upserts the best TopN as pending review.
func (uc *TeamMatcher) MatchTeams(ctx context.Context, documentID string, opts domain.MatchOptions) ([]domain.MatchedCandidate, error) {
	meta, err := uc.metadata.GetMetadata(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "match teams", fmt.Errorf("document %s has no metadata yet", documentID))
		}
		return nil, fmt.Errorf("match teams: %w", err)
	}

	topN := opts.TopN
	if topN <= 0 {
		topN = uc.cfg.TopN
	}
	minScore := uc.cfg.MinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}

	candidates, err := uc.candidates.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	required := requiredSkills(meta)
	now := uc.now().UTC()
	out := make([]domain.MatchedCandidate, 0, len(candidates))
	for _, c := range candidates {
		score, breakdown := scoreCandidate(required, meta.Region, c, uc.cfg.Weights)
		if score < minScore {
			continue
		}
		out = append(out, domain.MatchedCandidate{
			DocumentID:    documentID,
			CandidateID:   c.ID,
			CandidateName: c.Name,
			Score:         score,
			Breakdown:     breakdown,
			Status:        domain.MatchPendingReview,
			UpdatedAt:     now,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	if len(out) > topN {
		out = out[:topN]
	}

	if err := uc.matches.UpsertMatches(ctx, documentID, out); err != nil {
		return nil, fmt.Errorf("persist matches: %w", err)
	}
	if err := uc.docs.UpdateStatus(ctx, documentID, domain.StatusMatched, ""); err != nil {
		uc.logger.Error("document_status_update_failed", zap.String("document_id", documentID), zap.Error(err))
	}
	uc.logger.Info("teams_matched",
		zap.String("document_id", documentID),
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", len(out)),
	)
	return out, nil
}

func (uc *TeamMatcher) ListMatches(ctx context.Context, documentID string) ([]domain.MatchedCandidate, error) {
	return uc.matches.ListMatches(ctx, documentID)
}
