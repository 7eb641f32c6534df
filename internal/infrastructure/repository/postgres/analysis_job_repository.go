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

type AnalysisJobRepository struct {
	db *sql.DB
}

func NewAnalysisJobRepository(db *sql.DB) *AnalysisJobRepository {
	return &AnalysisJobRepository{db: db}
}

func (r *AnalysisJobRepository) CreateJob(ctx context.Context, job *domain.AnalysisJob) error {
	result, err := marshalOptional(job.Result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO analysis_jobs (id, document_id, status, progress, message, result, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, job.ID, job.DocumentID, string(job.Status), job.Progress, job.Message, result, job.Error, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create analysis job: %w", err)
	}
	return nil
}

func (r *AnalysisJobRepository) GetJob(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_id, status, progress, message, result, error_message, created_at, updated_at
FROM analysis_jobs
WHERE id = $1
`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get analysis job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get analysis job: %w", err)
	}
	return &job, nil
}

func (r *AnalysisJobRepository) UpdateJob(ctx context.Context, job *domain.AnalysisJob) error {
	result, err := marshalOptional(job.Result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	updated := job.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE analysis_jobs
SET status = $2, progress = $3, message = $4, result = $5, error_message = $6, updated_at = $7
WHERE id = $1
`, job.ID, string(job.Status), job.Progress, job.Message, result, job.Error, updated)
	if err != nil {
		return fmt.Errorf("update analysis job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update analysis job rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, "update analysis job", fmt.Errorf("id=%s", job.ID))
	}
	return nil
}

func scanJob(row rowScanner) (domain.AnalysisJob, error) {
	var job domain.AnalysisJob
	var status string
	var result []byte
	err := row.Scan(
		&job.ID,
		&job.DocumentID,
		&status,
		&job.Progress,
		&job.Message,
		&result,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.AnalysisJob{}, err
	}
	job.Status = domain.AnalysisStatus(status)
	if len(result) > 0 {
		job.Result = &domain.AnalysisResult{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return domain.AnalysisJob{}, fmt.Errorf("unmarshal job result: %w", err)
		}
	}
	return job, nil
}
