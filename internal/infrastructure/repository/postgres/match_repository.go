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

type MatchRepository struct {
	db *sql.DB
}

func NewMatchRepository(db *sql.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// UpsertMatches writes every match in one transaction. A reviewer's status on
// an existing row is kept; rows for candidates absent from matches stay.
func (r *MatchRepository) UpsertMatches(ctx context.Context, documentID string, matches []domain.MatchedCandidate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin match tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, m := range matches {
		breakdown, err := json.Marshal(m.Breakdown)
		if err != nil {
			return fmt.Errorf("marshal breakdown: %w", err)
		}
		status := m.Status
		if status == "" {
			status = domain.MatchPendingReview
		}
		updated := m.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO candidate_matches (document_id, candidate_id, candidate_name, score, breakdown, status, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (document_id, candidate_id) DO UPDATE
SET candidate_name = EXCLUDED.candidate_name, score = EXCLUDED.score,
	breakdown = EXCLUDED.breakdown, updated_at = EXCLUDED.updated_at
`, documentID, m.CandidateID, m.CandidateName, m.Score, breakdown, string(status), updated); err != nil {
			return fmt.Errorf("upsert match %s: %w", m.CandidateID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit match tx: %w", err)
	}
	return nil
}

func (r *MatchRepository) ListMatches(ctx context.Context, documentID string) ([]domain.MatchedCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, candidate_id, candidate_name, score, breakdown, status, updated_at
FROM candidate_matches
WHERE document_id = $1
ORDER BY score DESC, candidate_id
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	out := make([]domain.MatchedCandidate, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}

func (r *MatchRepository) GetMatch(ctx context.Context, documentID, candidateID string) (*domain.MatchedCandidate, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT document_id, candidate_id, candidate_name, score, breakdown, status, updated_at
FROM candidate_matches
WHERE document_id = $1 AND candidate_id = $2
`, documentID, candidateID)
	m, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get match", fmt.Errorf("document_id=%s candidate_id=%s", documentID, candidateID))
		}
		return nil, err
	}
	return &m, nil
}

func scanMatch(row rowScanner) (domain.MatchedCandidate, error) {
	var m domain.MatchedCandidate
	var breakdown []byte
	var status string
	if err := row.Scan(&m.DocumentID, &m.CandidateID, &m.CandidateName, &m.Score, &breakdown, &status, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MatchedCandidate{}, err
		}
		return domain.MatchedCandidate{}, fmt.Errorf("scan match: %w", err)
	}
	if err := json.Unmarshal(breakdown, &m.Breakdown); err != nil {
		return domain.MatchedCandidate{}, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	m.Status = domain.MatchStatus(status)
	return m, nil
}
