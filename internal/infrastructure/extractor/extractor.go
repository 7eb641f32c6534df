// Package extractor turns stored announcement files into plain text.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

const defaultMaxBytes = 32 << 20

type format string

const (
	formatText format = "text"
	formatPDF  format = "pdf"
	formatXLSX format = "xlsx"
	formatHTML format = "html"
)

type parser func(raw []byte) (string, error)

// Extractor picks a parser by file extension, falling back to the mime type.
type Extractor struct {
	storage  ports.ObjectStorage
	maxBytes int64
	parsers  map[format]parser
}

func New(storage ports.ObjectStorage) *Extractor {
	return &Extractor{
		storage:  storage,
		maxBytes: defaultMaxBytes,
		parsers: map[format]parser{
			formatText: parsePlainText,
			formatPDF:  parsePDF,
			formatXLSX: parseXLSX,
			formatHTML: parseHTML,
		},
	}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, e.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if int64(len(raw)) > e.maxBytes {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("%s exceeds %d bytes", doc.Filename, e.maxBytes))
	}

	kind := detectFormat(doc.Filename, doc.MimeType, raw)
	text, err := e.parsers[kind](raw)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract "+string(kind), fmt.Errorf("%s: %w", doc.Filename, err))
	}
	return normalizeText(text), nil
}

func detectFormat(filename, mimeType string, raw []byte) format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return formatPDF
	case ".xlsx", ".xlsm":
		return formatXLSX
	case ".html", ".htm", ".xhtml":
		return formatHTML
	case ".txt", ".md", ".csv":
		return formatText
	}

	mediaType, _, _ := mime.ParseMediaType(mimeType)
	switch mediaType {
	case "application/pdf":
		return formatPDF
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return formatXLSX
	case "text/html", "application/xhtml+xml":
		return formatHTML
	}

	if bytes.HasPrefix(raw, []byte("%PDF-")) {
		return formatPDF
	}
	return formatText
}

var errBinary = errors.New("unsupported binary format")

// normalizeText unifies line endings and collapses runs of blank lines.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
