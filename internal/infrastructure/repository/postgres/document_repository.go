package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

const documentColumns = "id, filename, mime_type, storage_path, chunk_count, status, error_message, created_at, updated_at"

// DocumentRepository keeps announcement documents and their indexing state.
type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: time.Now}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	query := "INSERT INTO documents (" + documentColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)"
	if _, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Filename, doc.MimeType, doc.StoragePath, doc.ChunkCount,
		string(doc.Status), doc.Error, doc.CreatedAt, doc.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", id)

	var (
		doc    domain.Document
		status string
	)
	switch err := row.Scan(
		&doc.ID, &doc.Filename, &doc.MimeType, &doc.StoragePath, &doc.ChunkCount,
		&status, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	case err != nil:
		return nil, fmt.Errorf("scan document %s: %w", id, err)
	}
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	return r.update(ctx, "update document status", id,
		"status = $2, error_message = $3, updated_at = $4",
		string(status), errMessage, r.now().UTC())
}

func (r *DocumentRepository) SetChunkCount(ctx context.Context, id string, count int) error {
	return r.update(ctx, "set chunk count", id,
		"chunk_count = $2, updated_at = $3",
		count, r.now().UTC())
}

// update applies set to one document row; id is always $1.
func (r *DocumentRepository) update(ctx context.Context, op, id, set string, args ...any) error {
	result, err := r.db.ExecContext(ctx, "UPDATE documents SET "+set+" WHERE id = $1", append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
