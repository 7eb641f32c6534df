package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

// IngestDocumentUseCase accepts announcement files. The blob goes to object
// storage, the row to the document repository, and indexing happens either
// on a worker (Upload) or inline by the caller (Register).
type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	now     func() time.Time
}

func NewIngestDocumentUseCase(repo ports.DocumentRepository, storage ports.ObjectStorage, queue ports.MessageQueue) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{repo: repo, storage: storage, queue: queue, now: time.Now}
}

// Upload registers the file and queues it for asynchronous indexing. If the
// event cannot be published the document is marked failed so it does not
// linger in the uploaded state.
func (uc *IngestDocumentUseCase) Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	doc, err := uc.Register(ctx, filename, mimeType, body)
	if err != nil {
		return nil, err
	}
	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		_ = uc.repo.UpdateStatus(ctx, doc.ID, domain.StatusFailed, "queue unavailable: "+err.Error())
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}
	return doc, nil
}

// Register stores the file and creates its document row without queueing it.
func (uc *IngestDocumentUseCase) Register(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	const op = "register document"
	switch {
	case strings.TrimSpace(filename) == "":
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("filename is required"))
	case body == nil:
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("body is required"))
	}

	now := uc.now().UTC()
	doc := &domain.Document{
		ID:        uuid.NewString(),
		Filename:  filename,
		MimeType:  detectMimeType(filename, mimeType),
		Status:    domain.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.StoragePath = doc.ID + "_" + sanitizeFilename(filename)

	if err := uc.storage.Save(ctx, doc.StoragePath, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}
	return doc, nil
}

// detectMimeType trusts the client unless it sent nothing useful, in which
// case the extension decides. Extraction dispatches on this value.
func detectMimeType(filename, declared string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

// sanitizeFilename keeps ASCII letters, digits, dot, dash and underscore of
// the base name and replaces everything else with an underscore.
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return "document.bin"
	}
	var b strings.Builder
	for _, r := range base {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}
