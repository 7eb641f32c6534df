package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

type DraftRepository struct {
	db *sql.DB
}

func NewDraftRepository(db *sql.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// UpsertDraft replaces the current draft for the pair and keeps its first created_at.
func (r *DraftRepository) UpsertDraft(ctx context.Context, draft *domain.EstimateDraft) error {
	ms := draft.Milestones
	if ms == nil {
		ms = []domain.Milestone{}
	}
	milestones, err := json.Marshal(ms)
	if err != nil {
		return fmt.Errorf("marshal milestones: %w", err)
	}
	warnings, err := json.Marshal(nonNilStrings(draft.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	now := time.Now().UTC()
	created := draft.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := draft.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO estimate_drafts (
	document_id, candidate_id, total_amount, start_date, end_date, detail, milestones, warnings, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (document_id, candidate_id) DO UPDATE
SET total_amount = EXCLUDED.total_amount, start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
	detail = EXCLUDED.detail, milestones = EXCLUDED.milestones, warnings = EXCLUDED.warnings,
	updated_at = EXCLUDED.updated_at
`,
		draft.DocumentID, draft.CandidateID, draft.TotalAmount, draft.StartDate.Time, draft.EndDate.Time,
		draft.Detail, milestones, warnings, created, updated,
	)
	if err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	return nil
}

func (r *DraftRepository) GetDraft(ctx context.Context, documentID, candidateID string) (*domain.EstimateDraft, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT document_id, candidate_id, total_amount, start_date, end_date, detail, milestones, warnings, created_at, updated_at
FROM estimate_drafts
WHERE document_id = $1 AND candidate_id = $2
`, documentID, candidateID)

	var d domain.EstimateDraft
	var milestones, warnings []byte
	err := row.Scan(
		&d.DocumentID, &d.CandidateID, &d.TotalAmount, &d.StartDate.Time, &d.EndDate.Time,
		&d.Detail, &milestones, &warnings, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get draft", fmt.Errorf("document_id=%s candidate_id=%s", documentID, candidateID))
		}
		return nil, fmt.Errorf("scan draft: %w", err)
	}
	if err := json.Unmarshal(milestones, &d.Milestones); err != nil {
		return nil, fmt.Errorf("unmarshal milestones: %w", err)
	}
	if err := json.Unmarshal(warnings, &d.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal warnings: %w", err)
	}
	return &d, nil
}
