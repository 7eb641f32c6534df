package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

// EmbeddingGateway is the single entry point to the embedding provider.
// It caches nothing and never returns partial batches.
type EmbeddingGateway struct {
	provider   ports.Embedder
	dimensions int
}

// NewEmbeddingGateway wraps provider. dimensions <= 0 disables the length check.
func NewEmbeddingGateway(provider ports.Embedder, dimensions int) *EmbeddingGateway {
	return &EmbeddingGateway{provider: provider, dimensions: dimensions}
}

func (g *EmbeddingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "embed", errors.New("text is empty"))
	}
	vector, err := g.provider.Embed(ctx, text)
	if err != nil {
		return nil, domain.WrapError(domain.ErrProvider, "embed", err)
	}
	if err := g.checkDimensions(vector); err != nil {
		return nil, domain.WrapError(domain.ErrProvider, "embed", err)
	}
	return vector, nil
}

func (g *EmbeddingGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := g.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, domain.WrapError(domain.ErrProvider, "embed batch", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(
			domain.ErrProvider,
			"embed batch",
			fmt.Errorf("vectors/texts mismatch: %d/%d", len(vectors), len(texts)),
		)
	}
	for i, vector := range vectors {
		if err := g.checkDimensions(vector); err != nil {
			return nil, domain.WrapError(domain.ErrProvider, "embed batch", fmt.Errorf("item %d: %w", i, err))
		}
	}
	return vectors, nil
}

func (g *EmbeddingGateway) checkDimensions(vector []float32) error {
	if len(vector) == 0 {
		return errors.New("empty embedding")
	}
	if g.dimensions > 0 && len(vector) != g.dimensions {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), g.dimensions)
	}
	return nil
}
