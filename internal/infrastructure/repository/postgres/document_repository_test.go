package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("expectations: %v", err)
		}
		_ = db.Close()
	})
	return db, mock
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("SELECT id, filename, mime_type, storage_path").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestGetByIDScansDocument(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM documents").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "filename", "mime_type", "storage_path", "chunk_count", "status", "error_message", "created_at", "updated_at",
		}).AddRow("doc-1", "tender.pdf", "application/pdf", "k/tender.pdf", 7, "ready", "", now, now))

	doc, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.ChunkCount != 7 || doc.Status != domain.StatusReady {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestUpdateStatusReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectExec("UPDATE documents").
		WithArgs("missing", string(domain.StatusProcessing), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", domain.StatusProcessing, "")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestSetChunkCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectExec("SET chunk_count").
		WithArgs("doc-1", 12, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetChunkCount(context.Background(), "doc-1", 12); err != nil {
		t.Fatalf("SetChunkCount() error = %v", err)
	}
}

func TestEnsureSchemaTakesLockAndCommits(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(schemaLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`embedding vector\(768\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db, 768); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
}

func TestEnsureSchemaRejectsBadDimensions(t *testing.T) {
	db, _ := newMockDB(t)
	if err := EnsureSchema(context.Background(), db, 0); err == nil {
		t.Fatalf("expected error for zero dimensions")
	}
}
