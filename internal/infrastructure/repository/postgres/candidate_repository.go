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

// CandidateRepository serves team profiles from the teams table.
type CandidateRepository struct {
	db *sql.DB
}

func NewCandidateRepository(db *sql.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

const candidateColumns = `id, name, skills, experience_years, completed_projects, location, rating, monthly_rate, updated_at`

func (r *CandidateRepository) ListCandidates(ctx context.Context) ([]domain.Candidate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+candidateColumns+` FROM teams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Candidate, 0)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

func (r *CandidateRepository) GetCandidate(ctx context.Context, id string) (*domain.Candidate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM teams WHERE id = $1`, id)
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrCandidateNotFound, "get candidate", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return &c, nil
}

func (r *CandidateRepository) UpsertCandidate(ctx context.Context, c *domain.Candidate) error {
	skills, err := json.Marshal(nonNilStrings(c.Skills))
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO teams (`+candidateColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, skills = EXCLUDED.skills, experience_years = EXCLUDED.experience_years,
	completed_projects = EXCLUDED.completed_projects, location = EXCLUDED.location,
	rating = EXCLUDED.rating, monthly_rate = EXCLUDED.monthly_rate, updated_at = EXCLUDED.updated_at
`, c.ID, c.Name, skills, c.ExperienceYears, c.CompletedProjects, c.Location, c.Rating, c.MonthlyRate, updated)
	if err != nil {
		return fmt.Errorf("upsert candidate: %w", err)
	}
	return nil
}

func scanCandidate(row rowScanner) (domain.Candidate, error) {
	var c domain.Candidate
	var skills []byte
	err := row.Scan(
		&c.ID, &c.Name, &skills, &c.ExperienceYears, &c.CompletedProjects,
		&c.Location, &c.Rating, &c.MonthlyRate, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Candidate{}, err
		}
		return domain.Candidate{}, fmt.Errorf("scan candidate: %w", err)
	}
	if err := json.Unmarshal(skills, &c.Skills); err != nil {
		return domain.Candidate{}, fmt.Errorf("unmarshal skills: %w", err)
	}
	return c, nil
}
