package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

func TestInsertChunksUpsertsAndPrunes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO document_chunks")
	prep.ExpectExec().
		WithArgs("c0", "doc-1", 0, "full", "alpha", []byte(`{"filename":"a.txt"}`), "[1,0]", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("c1", "doc-1", 1, "chunk", "beta", []byte(`{}`), "[0,1]", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM document_chunks").
		WithArgs("doc-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := repo.InsertChunks(context.Background(), "doc-1", []domain.Chunk{
		{ID: "c0", Index: 0, Type: domain.ChunkTypeFull, Text: "alpha", Metadata: map[string]any{"filename": "a.txt"}, Embedding: []float32{1, 0}},
		{ID: "c1", Index: 1, Type: domain.ChunkTypeChunk, Text: "beta", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("InsertChunks() error = %v", err)
	}
}

func TestDeleteByDocumentRemovesEveryChunk(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM document_chunks WHERE document_id = $1")).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	if err := repo.DeleteByDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
}

func TestCosineSearchFiltersDocumentsAndScansEmbeddings(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE document_id IN ($3,$4)")).
		WithArgs("[0.5,0.5]", 5, "doc-1", "doc-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "chunk_index", "content", "metadata", "embedding", "score"}).
			AddRow("c0", "doc-1", 0, "alpha", []byte(`{"chunk_type":"full"}`), "[1,0]", 0.71).
			AddRow("c9", "doc-2", 3, "beta", nil, "[0,1]", 0.70))

	got, err := repo.CosineSearch(context.Background(), []float32{0.5, 0.5}, 5, []string{"doc-1", "doc-2"})
	if err != nil {
		t.Fatalf("CosineSearch() error = %v", err)
	}
	if len(got) != 2 || got[0].ChunkID != "c0" || got[0].Metadata["chunk_type"] != "full" {
		t.Fatalf("unexpected rows %+v", got)
	}
	if len(got[1].Embedding) != 2 || got[1].Embedding[1] != 1 || got[1].Relevance != 0.70 {
		t.Fatalf("unexpected second row %+v", got[1])
	}
}

func TestKeywordSearchEscapesTermsAndRanksByHits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY (content ILIKE $1 ESCAPE '\')::int + (content ILIKE $2 ESCAPE '\')::int DESC, id`)).
		WithArgs(`%100\%%`, `%go%`, "doc-1", 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "chunk_index", "content", "metadata"}).
			AddRow("c1", "doc-1", 1, "Go with 100% coverage", []byte(`{}`)))

	got, err := repo.KeywordSearch(context.Background(), []string{"100%", "go"}, 4, []string{"doc-1"})
	if err != nil {
		t.Fatalf("KeywordSearch() error = %v", err)
	}
	if len(got) != 1 || got[0].ChunkIndex != 1 {
		t.Fatalf("unexpected rows %+v", got)
	}
}

func TestKeywordSearchWithoutTerms(t *testing.T) {
	db, _ := newMockDB(t)
	got, err := NewChunkRepository(db).KeywordSearch(context.Background(), nil, 4, nil)
	if err != nil || got != nil {
		t.Fatalf("expected empty result, got %v %v", got, err)
	}
}

func TestGetChunksByDocumentAppliesLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db)
	now := time.Now()

	mock.ExpectQuery("ORDER BY chunk_index\\s+LIMIT \\$2").
		WithArgs("doc-1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "chunk_index", "chunk_type", "content", "metadata", "embedding", "created_at"}).
			AddRow("c0", "doc-1", 0, "full", "alpha", []byte(`{}`), "[1,2]", now).
			AddRow("c1", "doc-1", 1, "chunk", "beta", []byte(`{}`), "[3,4]", now))

	got, err := repo.GetChunksByDocument(context.Background(), "doc-1", 2)
	if err != nil {
		t.Fatalf("GetChunksByDocument() error = %v", err)
	}
	if len(got) != 2 || got[0].Type != domain.ChunkTypeFull || got[1].Embedding[0] != 3 {
		t.Fatalf("unexpected chunks %+v", got)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`a_b%c\d`); got != `a\_b\%c\\d` {
		t.Fatalf("escapeLike() = %q", got)
	}
}
