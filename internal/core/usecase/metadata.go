package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
	"github.com/kirillkom/bidmatch/internal/core/prompts"
)

type MetadataConfig struct {
	MaxChunks int
	MaxChars  int
}

func (c MetadataConfig) normalize() MetadataConfig {
	if c.MaxChunks <= 0 {
		c.MaxChunks = 5
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 3000
	}
	return c
}

// MetadataExtractor is the fast path that pulls structured facts from the
// leading chunks of a document.
type MetadataExtractor struct {
	chunks  ports.ChunkStore
	store   ports.MetadataStore
	llm     ports.Completer
	prompts *prompts.Catalog
	cfg     MetadataConfig
	logger  *zap.Logger
	now     func() time.Time

	failures ports.PersistFailureRecorder
}

func NewMetadataExtractor(
	chunks ports.ChunkStore,
	store ports.MetadataStore,
	llm ports.Completer,
	catalog *prompts.Catalog,
	cfg MetadataConfig,
	logger *zap.Logger,
) *MetadataExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataExtractor{
		chunks:  chunks,
		store:   store,
		llm:     llm,
		prompts: catalog,
		cfg:     cfg.normalize(),
		logger:  logger,
		now:     time.Now,
	}
}

type metadataPayload struct {
	Title          string   `json:"title"`
	BudgetMin      *float64 `json:"budget_min"`
	BudgetMax      *float64 `json:"budget_max"`
	DurationMonths *float64 `json:"duration_months"`
	TechStack      []string `json:"tech_stack"`
	Organization   string   `json:"organization"`
	Region         string   `json:"region"`
	Deadline       *string  `json:"deadline"`
	Summary        string   `json:"summary"`
}

// ExtractMetadata prompts the completion provider with the first chunks of
// the document and upserts the validated result. A storage failure after a
// successful extraction is logged and the metadata is still returned.
func (uc *MetadataExtractor) ExtractMetadata(ctx context.Context, documentID string) (*domain.AnnouncementMetadata, error) {
	const op = "extract metadata"

	chunks, err := uc.chunks.GetChunksByDocument(ctx, documentID, uc.cfg.MaxChunks)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, op, err)
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("document %s has no indexed chunks", documentID))
	}

	req, err := uc.prompts.Render(prompts.Metadata, map[string]any{
		"Text": truncateRunes(joinChunkText(chunks), uc.cfg.MaxChars),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var payload metadataPayload
	raw, err := completeJSON(ctx, uc.llm, op, req, &payload)
	if err != nil {
		return nil, err
	}
	meta, err := payload.toDomain(documentID)
	if err != nil {
		return nil, domain.NewExtractionError(op, raw, err)
	}
	meta.UpdatedAt = uc.now().UTC()

	if err := uc.store.UpsertMetadata(ctx, meta); err != nil {
		uc.logger.Error("metadata_persist_failed",
			zap.String("document_id", documentID),
			zap.Error(err),
		)
		if uc.failures != nil {
			uc.failures.RecordPersistFailure("metadata")
		}
	}
	return meta, nil
}

func (uc *MetadataExtractor) GetMetadata(ctx context.Context, documentID string) (*domain.AnnouncementMetadata, error) {
	return uc.store.GetMetadata(ctx, documentID)
}

// SetFailureRecorder counts swallowed persistence failures. r may be nil.
func (uc *MetadataExtractor) SetFailureRecorder(r ports.PersistFailureRecorder) {
	uc.failures = r
}

func (p metadataPayload) toDomain(documentID string) (*domain.AnnouncementMetadata, error) {
	var errs []error
	budgetMin, err := wholeAmount("budget_min", p.BudgetMin)
	errs = append(errs, err)
	budgetMax, err := wholeAmount("budget_max", p.BudgetMax)
	errs = append(errs, err)
	deadline, err := parseOptionalDate("deadline", p.Deadline)
	errs = append(errs, err)

	var duration *int
	if p.DurationMonths != nil {
		if math.IsNaN(*p.DurationMonths) || math.IsInf(*p.DurationMonths, 0) {
			errs = append(errs, errors.New("duration_months is not finite"))
		} else {
			months := int(math.Round(*p.DurationMonths))
			duration = &months
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	meta := &domain.AnnouncementMetadata{
		DocumentID:     documentID,
		Title:          strings.TrimSpace(p.Title),
		BudgetMin:      budgetMin,
		BudgetMax:      budgetMax,
		DurationMonths: duration,
		TechStack:      normalizeTags(p.TechStack),
		Organization:   strings.TrimSpace(p.Organization),
		Region:         strings.TrimSpace(p.Region),
		Deadline:       deadline,
		Summary:        strings.TrimSpace(p.Summary),
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

func joinChunkText(chunks []domain.Chunk) string {
	var b strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(chunk.Text)
	}
	return b.String()
}
