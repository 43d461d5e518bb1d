package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/application/port"
)

// Reader extracts plain text from documents using mupdf. PDF, EPUB and XPS
// files go through mupdf; plain-text files are read directly.
// Implements port.DocumentReader.
type Reader struct {
	logger *zap.Logger
}

// NewReader creates a new document reader
func NewReader(logger *zap.Logger) *Reader {
	return &Reader{logger: logger}
}

// ExtractText reads every page of the document at path and concatenates the
// page texts in order
func (r *Reader) ExtractText(ctx context.Context, path string) (*port.DocumentText, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("document not found: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".txt" || ext == ".md" {
		return r.readTextFile(path)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	r.logger.Debug("Processing document",
		zap.String("path", path),
		zap.Int("total_pages", pageCount))

	var b strings.Builder
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := doc.Text(pageNum)
		if err != nil {
			r.logger.Warn("Failed to extract page text",
				zap.Int("page", pageNum),
				zap.Error(err))
			continue
		}

		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteString("\n")
		}
	}

	r.logger.Info("Document text extracted",
		zap.String("path", path),
		zap.Int("pages", pageCount),
		zap.Int("text_bytes", b.Len()))

	return &port.DocumentText{
		Path:  path,
		Pages: pageCount,
		Text:  b.String(),
	}, nil
}

// readTextFile reads a plain-text file directly
func (r *Reader) readTextFile(path string) (*port.DocumentText, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return &port.DocumentText{
		Path:  path,
		Pages: 1,
		Text:  string(data),
	}, nil
}

var _ port.DocumentReader = (*Reader)(nil)
