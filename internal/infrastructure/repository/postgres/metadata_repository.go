package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oapi-codegen/runtime/types"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

type MetadataRepository struct {
	db *sql.DB
}

func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// UpsertMetadata overwrites extracted fields. A nil Analysis keeps the stored one.
func (r *MetadataRepository) UpsertMetadata(ctx context.Context, meta *domain.AnnouncementMetadata) error {
	techStack, err := json.Marshal(nonNilStrings(meta.TechStack))
	if err != nil {
		return fmt.Errorf("marshal tech stack: %w", err)
	}
	analysis, err := marshalOptional(meta.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	var deadline any
	if meta.Deadline != nil {
		deadline = meta.Deadline.Time
	}
	updated := meta.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO announcement_metadata (
	document_id, title, budget_min, budget_max, duration_months, tech_stack, organization, region, deadline, summary, analysis, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (document_id) DO UPDATE
SET title = EXCLUDED.title, budget_min = EXCLUDED.budget_min, budget_max = EXCLUDED.budget_max,
	duration_months = EXCLUDED.duration_months, tech_stack = EXCLUDED.tech_stack,
	organization = EXCLUDED.organization, region = EXCLUDED.region, deadline = EXCLUDED.deadline,
	summary = EXCLUDED.summary, analysis = COALESCE(EXCLUDED.analysis, announcement_metadata.analysis),
	updated_at = EXCLUDED.updated_at
`,
		meta.DocumentID, meta.Title, meta.BudgetMin, meta.BudgetMax, meta.DurationMonths, techStack,
		meta.Organization, meta.Region, deadline, meta.Summary, analysis, updated,
	)
	if err != nil {
		return fmt.Errorf("upsert metadata: %w", err)
	}
	return nil
}

func (r *MetadataRepository) SaveAnalysis(ctx context.Context, documentID string, result *domain.AnalysisResult) error {
	analysis, err := marshalOptional(result)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO announcement_metadata (document_id, analysis, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (document_id) DO UPDATE
SET analysis = EXCLUDED.analysis, updated_at = EXCLUDED.updated_at
`, documentID, analysis, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

func (r *MetadataRepository) GetMetadata(ctx context.Context, documentID string) (*domain.AnnouncementMetadata, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT document_id, title, budget_min, budget_max, duration_months, tech_stack, organization, region, deadline, summary, analysis, updated_at
FROM announcement_metadata
WHERE document_id = $1
`, documentID)

	var meta domain.AnnouncementMetadata
	var budgetMin, budgetMax sql.NullInt64
	var duration sql.NullInt32
	var deadline sql.NullTime
	var techStack, analysis []byte
	err := row.Scan(
		&meta.DocumentID, &meta.Title, &budgetMin, &budgetMax, &duration, &techStack,
		&meta.Organization, &meta.Region, &deadline, &meta.Summary, &analysis, &meta.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get metadata", fmt.Errorf("document_id=%s", documentID))
		}
		return nil, fmt.Errorf("scan metadata: %w", err)
	}

	if budgetMin.Valid {
		meta.BudgetMin = &budgetMin.Int64
	}
	if budgetMax.Valid {
		meta.BudgetMax = &budgetMax.Int64
	}
	if duration.Valid {
		months := int(duration.Int32)
		meta.DurationMonths = &months
	}
	if deadline.Valid {
		meta.Deadline = &types.Date{Time: deadline.Time}
	}
	if err := json.Unmarshal(techStack, &meta.TechStack); err != nil {
		return nil, fmt.Errorf("unmarshal tech stack: %w", err)
	}
	if len(analysis) > 0 {
		meta.Analysis = &domain.AnalysisResult{}
		if err := json.Unmarshal(analysis, meta.Analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
	}
	return &meta, nil
}

// marshalOptional encodes v, or returns nil for a nil pointer so the column stays NULL.
func marshalOptional[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
