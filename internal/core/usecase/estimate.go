package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
	"github.com/kirillkom/bidmatch/internal/core/prompts"
)

const estimateContextChunks = 3

type DraftGenerator struct {
	chunks     ports.ChunkStore
	metadata   ports.MetadataStore
	candidates ports.CandidateDirectory
	matches    ports.MatchStore
	drafts     ports.DraftStore
	llm        ports.Completer
	prompts    *prompts.Catalog
	logger     *zap.Logger
	now        func() time.Time
}

type DraftDeps struct {
	Chunks     ports.ChunkStore
	Metadata   ports.MetadataStore
	Candidates ports.CandidateDirectory
	Matches    ports.MatchStore
	Drafts     ports.DraftStore
	LLM        ports.Completer
	Prompts    *prompts.Catalog
}

func NewDraftGenerator(deps DraftDeps, logger *zap.Logger) *DraftGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftGenerator{
		chunks:     deps.Chunks,
		metadata:   deps.Metadata,
		candidates: deps.Candidates,
		matches:    deps.Matches,
		drafts:     deps.Drafts,
		llm:        deps.LLM,
		prompts:    deps.Prompts,
		logger:     logger,
		now:        time.Now,
	}
}

type milestonePayload struct {
	Title     string   `json:"title"`
	Detail    string   `json:"detail"`
	Amount    *float64 `json:"amount"`
	StartDate *string  `json:"start_date"`
	EndDate   *string  `json:"end_date"`
}

type draftPayload struct {
	TotalAmount *float64           `json:"total_amount"`
	StartDate   *string            `json:"start_date"`
	EndDate     *string            `json:"end_date"`
	Detail      string             `json:"detail"`
	Milestones  []milestonePayload `json:"milestones"`
}

// GenerateDraft asks the completion provider for an estimate for one
// candidate and replaces any previous draft for the pair. Soft violations
// are recorded as warnings instead of rejecting the draft.
func (uc *DraftGenerator) GenerateDraft(ctx context.Context, documentID, candidateID string) (*domain.EstimateDraft, error) {
	const op = "generate estimate draft"

	meta, err := uc.metadata.GetMetadata(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("document %s has no metadata yet", documentID))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	candidate, err := uc.candidates.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	match, err := uc.matches.GetMatch(ctx, documentID, candidateID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		match = nil
	}
	chunks, err := uc.chunks.GetChunksByDocument(ctx, documentID, estimateContextChunks)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, op, err)
	}

	req, err := uc.prompts.Render(prompts.EstimateDraft, map[string]any{
		"Metadata":  meta,
		"Budget":    budgetText(meta),
		"Duration":  optionalText(meta.DurationMonths),
		"Deadline":  optionalText(meta.Deadline),
		"Candidate": candidate,
		"Match":     match,
		"Chunks":    chunks,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var payload draftPayload
	raw, err := completeJSON(ctx, uc.llm, op, req, &payload)
	if err != nil {
		return nil, err
	}
	draft, err := payload.toDomain(documentID, candidateID)
	if err != nil {
		return nil, domain.NewExtractionError(op, raw, err)
	}

	now := uc.now().UTC()
	draft.CreatedAt = now
	draft.UpdatedAt = now
	draft.Warnings = draft.SoftCheck()
	if len(draft.Warnings) > 0 {
		uc.logger.Warn("estimate_draft_soft_check",
			zap.String("document_id", documentID),
			zap.String("candidate_id", candidateID),
			zap.Strings("warnings", draft.Warnings),
		)
	}

	if err := uc.drafts.UpsertDraft(ctx, draft); err != nil {
		return nil, fmt.Errorf("persist estimate draft: %w", err)
	}
	return draft, nil
}

func (uc *DraftGenerator) GetDraft(ctx context.Context, documentID, candidateID string) (*domain.EstimateDraft, error) {
	return uc.drafts.GetDraft(ctx, documentID, candidateID)
}

func (p draftPayload) toDomain(documentID, candidateID string) (*domain.EstimateDraft, error) {
	var errs []error
	total, err := wholeAmount("total_amount", p.TotalAmount)
	errs = append(errs, err)
	if total == nil && err == nil {
		errs = append(errs, errors.New("total_amount is required"))
	}
	start, err := parseOptionalDate("start_date", p.StartDate)
	errs = append(errs, err)
	end, err := parseOptionalDate("end_date", p.EndDate)
	errs = append(errs, err)

	milestones := make([]domain.Milestone, 0, len(p.Milestones))
	for i, m := range p.Milestones {
		amount, err := wholeAmount(fmt.Sprintf("milestone %d amount", i), m.Amount)
		errs = append(errs, err)
		mStart, err := parseOptionalDate(fmt.Sprintf("milestone %d start_date", i), m.StartDate)
		errs = append(errs, err)
		mEnd, err := parseOptionalDate(fmt.Sprintf("milestone %d end_date", i), m.EndDate)
		errs = append(errs, err)

		ms := domain.Milestone{
			Title:  strings.TrimSpace(m.Title),
			Detail: strings.TrimSpace(m.Detail),
		}
		if amount != nil {
			ms.Amount = *amount
		}
		// Missing milestone dates inherit the draft range.
		if mStart != nil {
			ms.StartDate = *mStart
		} else if start != nil {
			ms.StartDate = *start
		}
		if mEnd != nil {
			ms.EndDate = *mEnd
		} else if end != nil {
			ms.EndDate = *end
		}
		milestones = append(milestones, ms)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	draft := &domain.EstimateDraft{
		DocumentID:  documentID,
		CandidateID: candidateID,
		TotalAmount: *total,
		Detail:      strings.TrimSpace(p.Detail),
		Milestones:  milestones,
	}
	if start != nil {
		draft.StartDate = *start
	}
	if end != nil {
		draft.EndDate = *end
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return draft, nil
}

func budgetText(meta *domain.AnnouncementMetadata) string {
	switch {
	case meta.BudgetMin != nil && meta.BudgetMax != nil:
		return fmt.Sprintf("%d - %d", *meta.BudgetMin, *meta.BudgetMax)
	case meta.BudgetMax != nil:
		return fmt.Sprintf("up to %d", *meta.BudgetMax)
	case meta.BudgetMin != nil:
		return fmt.Sprintf("from %d", *meta.BudgetMin)
	default:
		return "unknown"
	}
}

func optionalText[T any](v *T) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprint(*v)
}
