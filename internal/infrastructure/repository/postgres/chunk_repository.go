package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

// ChunkRepository stores chunks with their embeddings in a pgvector column.
type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// InsertChunks upserts by (document_id, chunk_index) and drops rows past the
// new last index, so re-indexing a document never duplicates chunks.
func (r *ChunkRepository) InsertChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_chunks (id, document_id, chunk_index, chunk_type, content, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (document_id, chunk_index) DO UPDATE
SET id = EXCLUDED.id, chunk_type = EXCLUDED.chunk_type, content = EXCLUDED.content,
	metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		meta, err := json.Marshal(nonNilMap(chunk.Metadata))
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		created := chunk.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, documentID, chunk.Index, string(chunk.Type), chunk.Text, meta,
			pgvector.NewVector(chunk.Embedding), created,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1 AND chunk_index >= $2`,
		documentID, len(chunks),
	); err != nil {
		return fmt.Errorf("prune stale chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

// CosineSearch orders by cosine distance and reports similarity = 1 - distance.
func (r *ChunkRepository) CosineSearch(ctx context.Context, vector []float32, k int, documentIDs []string) ([]domain.ScoredChunk, error) {
	args := []any{pgvector.NewVector(vector), k}
	query := `
SELECT id, document_id, chunk_index, content, metadata, embedding, 1 - (embedding <=> $1) AS score
FROM document_chunks
`
	if len(documentIDs) > 0 {
		query += "WHERE document_id IN (" + placeholders(3, len(documentIDs)) + ")\n"
		args = appendStrings(args, documentIDs)
	}
	query += "ORDER BY embedding <=> $1, id\nLIMIT $2"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cosine search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScoredChunk, 0, k)
	for rows.Next() {
		var item domain.ScoredChunk
		var meta []byte
		var embedding pgvector.Vector
		if err := rows.Scan(
			&item.ChunkID, &item.DocumentID, &item.ChunkIndex, &item.Text, &meta, &embedding, &item.Score,
		); err != nil {
			return nil, fmt.Errorf("scan cosine row: %w", err)
		}
		if err := unmarshalMetadata(meta, &item.Metadata); err != nil {
			return nil, err
		}
		item.Relevance = item.Score
		item.Embedding = embedding.Slice()
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cosine rows: %w", err)
	}
	return out, nil
}

// KeywordSearch matches terms with ILIKE and ranks rows by how many terms
// they contain. Scores are assigned by the caller.
func (r *ChunkRepository) KeywordSearch(ctx context.Context, terms []string, k int, documentIDs []string) ([]domain.RetrievedResult, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(terms)+len(documentIDs)+1)
	matches := make([]string, len(terms))
	hits := make([]string, len(terms))
	for i, term := range terms {
		args = append(args, "%"+escapeLike(term)+"%")
		p := "$" + strconv.Itoa(i+1)
		matches[i] = "content ILIKE " + p + ` ESCAPE '\'`
		hits[i] = "(content ILIKE " + p + ` ESCAPE '\')::int`
	}

	query := "SELECT id, document_id, chunk_index, content, metadata\nFROM document_chunks\nWHERE (" +
		strings.Join(matches, " OR ") + ")\n"
	if len(documentIDs) > 0 {
		query += "AND document_id IN (" + placeholders(len(args)+1, len(documentIDs)) + ")\n"
		args = appendStrings(args, documentIDs)
	}
	args = append(args, k)
	query += "ORDER BY " + strings.Join(hits, " + ") + " DESC, id\nLIMIT $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RetrievedResult, 0, k)
	for rows.Next() {
		var item domain.RetrievedResult
		var meta []byte
		if err := rows.Scan(&item.ChunkID, &item.DocumentID, &item.ChunkIndex, &item.Text, &meta); err != nil {
			return nil, fmt.Errorf("scan keyword row: %w", err)
		}
		if err := unmarshalMetadata(meta, &item.Metadata); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword rows: %w", err)
	}
	return out, nil
}

func (r *ChunkRepository) GetChunksByDocument(ctx context.Context, documentID string, limit int) ([]domain.Chunk, error) {
	query := `
SELECT id, document_id, chunk_index, chunk_type, content, metadata, embedding, created_at
FROM document_chunks
WHERE document_id = $1
ORDER BY chunk_index`
	args := []any{documentID}
	if limit > 0 {
		query += "\nLIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks by document: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Chunk, 0)
	for rows.Next() {
		var chunk domain.Chunk
		var chunkType string
		var meta []byte
		var embedding pgvector.Vector
		if err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunkType, &chunk.Text, &meta, &embedding, &chunk.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := unmarshalMetadata(meta, &chunk.Metadata); err != nil {
			return nil, err
		}
		chunk.Type = domain.ChunkType(chunkType)
		chunk.Embedding = embedding.Slice()
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func appendStrings(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func unmarshalMetadata(raw []byte, out *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal chunk metadata: %w", err)
	}
	return nil
}
